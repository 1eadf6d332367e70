package models

// MatchResult partitions an incoming batch against an existing ledger.
type MatchResult struct {
	Duplicates []Transaction `json:"duplicates"`
	Unique     []Transaction `json:"unique"`
	Updated    []Transaction `json:"updated"`
}

// ImportStats is the summary reported for one import.
type ImportStats struct {
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
	Updated    int `json:"updated"`
	Errors     int `json:"errors"`
}
