// Package acrcloud speaks the identify protocol of the recognition provider.
package acrcloud

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
)

const (
	HTTPMethod       = "POST"
	IdentifyPath     = "/v1/identify"
	DataType         = "audio"
	SignatureVersion = "1"
)

// StringToSign builds the canonical string covered by the request signature.
func StringToSign(accessKey string, timestamp int64) string {
	return HTTPMethod + "\n" +
		IdentifyPath + "\n" +
		accessKey + "\n" +
		DataType + "\n" +
		SignatureVersion + "\n" +
		strconv.FormatInt(timestamp, 10)
}

// Sign returns base64(HMAC-SHA1(secret, StringToSign(accessKey, timestamp))).
func Sign(secret, accessKey string, timestamp int64) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(StringToSign(accessKey, timestamp)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
