package models

import "strings"

// StartupProfile describes a requester for eligibility matching. It is
// request-scoped and never persisted.
type StartupProfile struct {
	Stage                 string   `json:"stage" yaml:"stage"`
	Sectors               []string `json:"sectors" yaml:"sectors"`
	Location              string   `json:"location" yaml:"location"`
	FundingNeeded         *float64 `json:"funding_needed" yaml:"funding_needed"`
	CompanyAgeYears       *float64 `json:"company_age_years" yaml:"company_age_years"`
	TeamSize              *int     `json:"team_size" yaml:"team_size"`
	Revenue               *float64 `json:"revenue_lakh" yaml:"revenue_lakh"`
	DPIITRecognized       bool     `json:"dpiit_recognized" yaml:"dpiit_recognized"`
	WomenLed              bool     `json:"women_led" yaml:"women_led"`
	FounderCategory       string   `json:"founder_category" yaml:"founder_category"`
	FirstTimeEntrepreneur bool     `json:"first_time_entrepreneur" yaml:"first_time_entrepreneur"`
}

// IsReservedCategory reports whether the founder belongs to SC or ST.
func (p StartupProfile) IsReservedCategory() bool {
	switch strings.ToLower(strings.TrimSpace(p.FounderCategory)) {
	case "sc", "st":
		return true
	}
	return false
}
