package ai

import (
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jkindrix/estimatebot/internal/domain"
)

// sniffBytes is how much of the payload is decoded for type detection.
const sniffBytes = 3072

// ImageMIMEType picks the MIME type for an inline image: the data URL's
// declared type, else the sniffed type of the payload, else image/jpeg.
func ImageMIMEType(declared, payload string) string {
	if declared != "" {
		return declared
	}

	enc := payload
	if max := base64.StdEncoding.EncodedLen(sniffBytes); len(enc) > max {
		enc = enc[:max]
	}
	buf := make([]byte, base64.StdEncoding.DecodedLen(len(enc)))
	n, _ := base64.StdEncoding.Decode(buf, []byte(enc))
	if n == 0 {
		return domain.DefaultImageMIMEType
	}

	detected := mimetype.Detect(buf[:n]).String()
	if strings.HasPrefix(detected, "image/") {
		return detected
	}
	return domain.DefaultImageMIMEType
}

// BuildRequest assembles the provider request for one task.
func BuildRequest(system, text string, task domain.EstimateTask) *Request {
	req := &Request{
		System: system,
		Parts:  []Part{TextPart(text)},
		Schema: ResultSchema(),
	}
	if !task.HasImage() {
		return req
	}
	declared, payload := task.ImageParts()
	if payload == "" {
		return req
	}
	req.Parts = append(req.Parts, ImagePart(ImageMIMEType(declared, payload), payload))
	return req
}
