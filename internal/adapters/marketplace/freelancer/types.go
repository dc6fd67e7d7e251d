package freelancer

import "encoding/json"

// envelope is the common response wrapper of the REST API.
type envelope struct {
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"error_code"`
}

type searchResult struct {
	Projects []projectPayload       `json:"projects"`
	Users    map[string]userPayload `json:"users"`
}

type projectPayload struct {
	ID                 int64           `json:"id"`
	OwnerID            int64           `json:"owner_id"`
	Title              string          `json:"title"`
	Status             string          `json:"status"`
	SEOURL             string          `json:"seo_url"`
	Type               string          `json:"type"`
	Description        string          `json:"description"`
	PreviewDescription string          `json:"preview_description"`
	SubmitDate         int64           `json:"submitdate"`
	Currency           currencyPayload `json:"currency"`
	Budget             budgetPayload   `json:"budget"`
	Upgrades           upgradesPayload `json:"upgrades"`
}

type currencyPayload struct {
	Code         string  `json:"code"`
	ExchangeRate float64 `json:"exchange_rate"`
}

type budgetPayload struct {
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
}

type upgradesPayload struct {
	NDA bool `json:"NDA"`
}

type userPayload struct {
	ID       int64 `json:"id"`
	Location struct {
		Country struct {
			Name string `json:"name"`
		} `json:"country"`
	} `json:"location"`
}

type bidsResult struct {
	Bids []bidPayload `json:"bids"`
}

type bidPayload struct {
	ID        int64 `json:"id"`
	BidderID  int64 `json:"bidder_id"`
	ProjectID int64 `json:"project_id"`
}

type placeBidRequest struct {
	ProjectID           int64   `json:"project_id"`
	BidderID            int64   `json:"bidder_id"`
	Amount              float64 `json:"amount"`
	Period              int     `json:"period"`
	MilestonePercentage int     `json:"milestone_percentage"`
	Description         string  `json:"description"`
}

type selfResult struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}
