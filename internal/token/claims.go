package token

import "github.com/golang-jwt/jwt/v5"

// ContentType marks the JWT as a provider access token.
const ContentType = "twilio-fpa;v=1"

// Claims is the access token payload. Grants carry the identity and the
// capabilities of the token holder.
type Claims struct {
	jwt.RegisteredClaims

	Grants Grants `json:"grants"`
}

type Grants struct {
	Identity string      `json:"identity"`
	Voice    *VoiceGrant `json:"voice,omitempty"`
}

// VoiceGrant scopes a token to calling. Incoming is always disabled; the
// client only places outbound calls through one application.
type VoiceGrant struct {
	Incoming IncomingGrant `json:"incoming"`
	Outgoing OutgoingGrant `json:"outgoing"`
}

type IncomingGrant struct {
	Allow bool `json:"allow"`
}

type OutgoingGrant struct {
	ApplicationSID string `json:"application_sid"`
}
