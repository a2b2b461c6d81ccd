package domain

// ImportRow is one parsed line of a bulk document import.
type ImportRow struct {
	Line         int
	Title        string
	TypeID       string
	OwnerID      string
	AccessGroups []string
	Version      string
}

type ImportRowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

type ImportReport struct {
	Created []string         `json:"created"`
	Failed  []ImportRowError `json:"failed"`
}
