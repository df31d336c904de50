package mutation

import "encoding/json"

// UnmarshalRecords decodes the record array posted by the injected observer.
func UnmarshalRecords(data []byte) ([]Record, error) {
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// MarshalVideoReport serialises a VideoReport to JSON.
func MarshalVideoReport(r *VideoReport) ([]byte, error) {
	return json.Marshal(r)
}

// MarshalProcessRequest serialises a ProcessRequest to JSON.
func MarshalProcessRequest(p *ProcessRequest) ([]byte, error) {
	return json.Marshal(p)
}
