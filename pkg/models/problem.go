package models

// APIProblem documents the RFC 7807 error shape returned by all
// FleetWarden endpoints. Kept in models so handler swagger annotations
// can reference it.
type APIProblem struct {
	Type     string `json:"type" example:"https://fleetwarden.dev/problems/not-found"`
	Title    string `json:"title" example:"Not Found"`
	Status   int    `json:"status" example:"404"`
	Detail   string `json:"detail,omitempty" example:"unknown firmware version"`
	Instance string `json:"instance,omitempty" example:"/api/v1/rollout/releases/9.9.9"`
}
