package connectivity

import "encoding/json"

// versionField is the only field this monitor reads or writes inside
// state.desired / state.reported / state.delta, per spec.md §6's "the
// monitor reads/writes only state.{desired,reported,delta}.version".
type versionField struct {
	Version string `json:"version"`
}

type shadowDocument struct {
	State struct {
		Desired  *versionField `json:"desired,omitempty"`
		Reported *versionField `json:"reported,omitempty"`
		Delta    *versionField `json:"delta,omitempty"`
	} `json:"state"`
}

// extractVersion pulls the version token out of a get/accepted or
// update/delta payload. get/accepted documents carry the full shadow
// (desired populated, delta absent); update/delta documents carry only
// delta. Both are processed identically by the caller once a version is
// extracted.
func extractVersion(payload []byte) (string, bool, error) {
	var doc shadowDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", false, err
	}
	if doc.State.Delta != nil && doc.State.Delta.Version != "" {
		return doc.State.Delta.Version, true, nil
	}
	if doc.State.Desired != nil && doc.State.Desired.Version != "" {
		return doc.State.Desired.Version, true, nil
	}
	return "", false, nil
}

func encodeReported(version string) []byte {
	doc := shadowDocument{}
	doc.State.Reported = &versionField{Version: version}
	b, _ := json.Marshal(doc)
	return b
}
