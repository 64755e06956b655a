package activity

import (
	"regexp"
	"strings"

	"github.com/quartzbi/metasync/types"
	"github.com/quartzbi/metasync/utils"
)

// eventPayload is the audit event body. Only the fields the folding needs
// are declared; everything else in the raw JSON is ignored by the decoder.
type eventPayload struct {
	UserIdentity userIdentity      `json:"userIdentity"`
	Resources    []payloadResource `json:"resources"`
}

type userIdentity struct {
	Type           string          `json:"type"`
	PrincipalID    string          `json:"principalId"`
	Arn            string          `json:"arn"`
	UserName       string          `json:"userName"`
	SessionContext *sessionContext `json:"sessionContext"`
}

type sessionContext struct {
	SessionIssuer sessionIssuer `json:"sessionIssuer"`
}

type sessionIssuer struct {
	UserName string `json:"userName"`
}

type payloadResource struct {
	ARN  string `json:"ARN"`
	Type string `json:"type"`
}

var (
	// user/ ARNs may carry path prefixes (user/engineering/jane); only the
	// final segment names the user.
	arnUserPattern = regexp.MustCompile(`user/(?:[^/]+/)*([^/]+)$`)

	assetResourcePattern = regexp.MustCompile(`(dashboard|analysis|dataset)/([^/]+)$`)
)

func parsePayload(raw string) (*eventPayload, error) {
	if raw == "" {
		return nil, types.ErrInvalidParameter
	}
	var payload eventPayload
	if err := utils.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// extractUserName resolves the acting user from the identity block. The
// branches are ordered: assumed-role session composite, direct user name,
// user ARN segment, raw principal id. Events matching none are discarded.
func extractUserName(identity userIdentity) (string, bool) {
	if identity.SessionContext != nil && identity.SessionContext.SessionIssuer.UserName != "" {
		if _, session, found := strings.Cut(identity.PrincipalID, ":"); found && session != "" {
			return identity.SessionContext.SessionIssuer.UserName + "/" + session, true
		}
	}

	if identity.UserName != "" {
		return identity.UserName, true
	}

	if strings.Contains(identity.Arn, "user/") {
		if m := arnUserPattern.FindStringSubmatch(identity.Arn); m != nil {
			return m[1], true
		}
	}

	if identity.PrincipalID != "" {
		return identity.PrincipalID, true
	}

	return "", false
}

// extractResourceName isolates the asset id from the event's structured
// resource refs, falling back to the payload's own resource list. An empty
// return means the activity entry carries no resource name.
func extractResourceName(refs []types.ResourceRef, payload *eventPayload) string {
	for _, ref := range refs {
		if id := matchAssetID(ref.Name); id != "" {
			return id
		}
	}
	if payload != nil {
		for _, res := range payload.Resources {
			if id := matchAssetID(res.ARN); id != "" {
				return id
			}
		}
	}
	return ""
}

func matchAssetID(s string) string {
	if s == "" {
		return ""
	}
	if m := assetResourcePattern.FindStringSubmatch(s); m != nil {
		return m[2]
	}
	return ""
}
