package types

// ConsultationReport is the structured audit produced for one
// consultation recording. sales_score is an integer on a 0-100 scale
// with 60 as the pass threshold; customer_intent is one of 高/中/低.
type ConsultationReport struct {
	Summary        string `json:"summary"`
	CustomerIntent string `json:"customer_intent"`
	SalesScore     int    `json:"sales_score"`
	PainPoints     string `json:"pain_points"`
	GoodPoints     string `json:"good_points"`
	BadPoints      string `json:"bad_points"`
	NextStep       string `json:"next_step"`
}

// ConsultationRecord is the persisted shape: review metadata entered
// by the supervisor plus the report fields and the full dialogue text.
type ConsultationRecord struct {
	Time       string `json:"time"`
	Consultant string `json:"consultant"`
	Patient    string `json:"patient"`
	Deal       string `json:"deal"`
	ConsultationReport
	Dialogue string `json:"dialogue"`
}
