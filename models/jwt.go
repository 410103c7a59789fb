package models

// DownloadClaims is the payload of a signed download link.
type DownloadClaims struct {
	Issuer    string `json:"iss,omitempty"`
	Subject   string `json:"sub"` // job id
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Archive   string `json:"arc,omitempty"` // archive file name, for display only
}
