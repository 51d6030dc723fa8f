package ws

// Server → client

type LogMessage struct {
	Type string `json:"type"`
	Seq  int    `json:"seq"`
	Line string `json:"line"`
}

type EndMessage struct {
	Type       string `json:"type"`
	JobID      string `json:"job_id"`
	State      string `json:"state"`
	ReturnCode *int   `json:"returncode"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
