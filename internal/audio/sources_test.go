package audio

import "testing"

func TestParseSources(t *testing.T) {
	output := `Auto-detected sources for pulse:
* alsa_input.pci-0000_00_1f.3.analog-stereo [Built-in Audio Analog Stereo]
  alsa_output.pci-0000_00_1f.3.analog-stereo.monitor [Monitor of Built-in Audio Analog Stereo]
  bluez_input.00_11_22
`
	sources := parseSources(output)
	if len(sources) != 3 {
		t.Fatalf("Expected 3 sources, got %d: %+v", len(sources), sources)
	}

	if !sources[0].Default || sources[0].Name != "alsa_input.pci-0000_00_1f.3.analog-stereo" {
		t.Errorf("Unexpected default source: %+v", sources[0])
	}
	if sources[0].Description != "Built-in Audio Analog Stereo" {
		t.Errorf("Unexpected description %q", sources[0].Description)
	}
	if sources[1].Default {
		t.Error("Only the starred source is default")
	}
	if sources[2].Name != "bluez_input.00_11_22" || sources[2].Description != "" {
		t.Errorf("Unexpected bare source: %+v", sources[2])
	}
}

func TestParseSources_Empty(t *testing.T) {
	if got := parseSources("Auto-detected sources for alsa:\n"); len(got) != 0 {
		t.Errorf("Expected no sources, got %+v", got)
	}
}

func TestInputArgs(t *testing.T) {
	got := InputArgs("pulse", Source{Name: "alsa_input.usb"})
	if got != `-f pulse -i "alsa_input.usb"` {
		t.Errorf("Unexpected input args %q", got)
	}
}
