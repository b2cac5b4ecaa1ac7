package s3util

import (
	"net/url"
	"strings"
)

// project is the cost-allocation tag value on every archived image.
const project = "garment-studio"

// objectTagging builds the URL-encoded Tagging string for an archived image.
// Keys of the form sessions/<id>/... also carry a Session tag so lifecycle
// rules and cost reports can group a session's images.
func objectTagging(key string) *string {
	v := url.Values{}
	v.Set("Project", project)
	if id := sessionOf(key); id != "" {
		v.Set("Session", id)
	}
	t := v.Encode()
	return &t
}

func sessionOf(key string) string {
	rest, ok := strings.CutPrefix(key, "sessions/")
	if !ok {
		return ""
	}
	id, _, found := strings.Cut(rest, "/")
	if !found {
		return ""
	}
	return id
}
