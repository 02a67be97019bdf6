package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	"VoiceForge/pkg/synthesis"
)

// Request identifies one synthesis: who speaks, with which model and settings, and what.
type Request struct {
	VoiceID string
	ModelID string
	Prosody synthesis.Prosody
	Text    string
}

// CacheKey is the content address of a synthesized request.
type CacheKey struct {
	Fingerprint string
	ObjectKey   string
	Request     Request
}

// NormalizeText is the text normalization applied before fingerprinting.
func NormalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Fingerprint derives the deterministic cache fingerprint for a request. Texts that
// differ only in case or surrounding whitespace share a fingerprint.
func Fingerprint(voiceID, modelID string, stability, similarityBoost float64, format, text string) string {
	h := sha256.New()
	// 每个字段带长度前缀，字段内容里的任何字符都不会和分隔混淆
	for _, field := range []string{
		voiceID,
		modelID,
		strconv.FormatFloat(stability, 'f', -1, 64),
		strconv.FormatFloat(similarityBoost, 'f', -1, 64),
		format,
		NormalizeText(text),
	} {
		h.Write([]byte(strconv.Itoa(len(field)) + ":" + field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ObjectKey lays cached audio out by model and voice so a voice's objects share a prefix.
// IDs are escaped so each stays a single path segment.
func ObjectKey(modelID, voiceID, fingerprint, format string) string {
	return "tts/" + keySegment(modelID) + "/" + keySegment(voiceID) + "/" + fingerprint + "." + synthesis.Extension(format)
}

func keySegment(id string) string {
	switch id {
	case "", ".", "..":
		return "_" + strings.ReplaceAll(id, ".", "%2E")
	}
	return url.PathEscape(id)
}
