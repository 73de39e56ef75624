package model

// FormField is one key/value pair detected by document analysis.
type FormField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
