package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzbi/metasync/types"
)

func TestExtractUserNameAssumedRoleComposite(t *testing.T) {
	identity := userIdentity{
		Type:        "AssumedRole",
		PrincipalID: "AROAEXAMPLE:jane.doe",
		Arn:         "arn:aws:sts::123456789012:assumed-role/Analysts/jane.doe",
		SessionContext: &sessionContext{
			SessionIssuer: sessionIssuer{UserName: "Analysts"},
		},
	}

	name, ok := extractUserName(identity)
	require.True(t, ok)
	assert.Equal(t, "Analysts/jane.doe", name)
}

func TestExtractUserNamePrecedence(t *testing.T) {
	tests := []struct {
		name     string
		identity userIdentity
		want     string
		ok       bool
	}{
		{
			name: "issuer present but principal id not composite falls to user name",
			identity: userIdentity{
				PrincipalID:    "AIDAEXAMPLE",
				UserName:       "bob",
				SessionContext: &sessionContext{SessionIssuer: sessionIssuer{UserName: "Analysts"}},
			},
			want: "bob",
			ok:   true,
		},
		{
			name:     "direct user name verbatim",
			identity: userIdentity{Type: "IAMUser", UserName: "alice", Arn: "arn:aws:iam::123456789012:user/alice"},
			want:     "alice",
			ok:       true,
		},
		{
			name:     "user arn trailing segment",
			identity: userIdentity{Arn: "arn:aws:iam::123456789012:user/carol"},
			want:     "carol",
			ok:       true,
		},
		{
			name:     "user arn strips path prefixes",
			identity: userIdentity{Arn: "arn:aws:iam::123456789012:user/engineering/data/jane"},
			want:     "jane",
			ok:       true,
		},
		{
			name:     "non-user arn falls to principal id",
			identity: userIdentity{Arn: "arn:aws:sts::123456789012:assumed-role/Analysts/jane", PrincipalID: "AROAEXAMPLE"},
			want:     "AROAEXAMPLE",
			ok:       true,
		},
		{
			name:     "raw principal id",
			identity: userIdentity{PrincipalID: "AIDAEXAMPLE"},
			want:     "AIDAEXAMPLE",
			ok:       true,
		},
		{
			name:     "nothing resolvable discards",
			identity: userIdentity{Type: "AWSService"},
			want:     "",
			ok:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, ok := extractUserName(tt.identity)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, name)
		})
	}
}

func TestParsePayload(t *testing.T) {
	payload, err := parsePayload(`{
		"userIdentity": {
			"type": "IAMUser",
			"principalId": "AIDAEXAMPLE",
			"arn": "arn:aws:iam::123456789012:user/alice",
			"userName": "alice"
		},
		"resources": [
			{"ARN": "arn:aws:quicksight:us-east-1:123456789012:dashboard/sales-q3", "type": "AWS::QuickSight::Dashboard"}
		]
	}`)
	require.NoError(t, err)
	assert.Equal(t, "alice", payload.UserIdentity.UserName)
	require.Len(t, payload.Resources, 1)
	assert.Equal(t, "arn:aws:quicksight:us-east-1:123456789012:dashboard/sales-q3", payload.Resources[0].ARN)
}

func TestParsePayloadInvalid(t *testing.T) {
	_, err := parsePayload("")
	assert.Error(t, err)

	_, err = parsePayload("{not json")
	assert.Error(t, err)
}

func TestExtractResourceName(t *testing.T) {
	tests := []struct {
		name    string
		refs    []types.ResourceRef
		payload *eventPayload
		want    string
	}{
		{
			name: "structured ref dashboard arn",
			refs: []types.ResourceRef{{Name: "arn:aws:quicksight:us-east-1:123456789012:dashboard/sales-q3"}},
			want: "sales-q3",
		},
		{
			name: "structured ref analysis path",
			refs: []types.ResourceRef{{Name: "analysis/churn-model"}},
			want: "churn-model",
		},
		{
			name: "structured ref dataset arn",
			refs: []types.ResourceRef{{Name: "arn:aws:quicksight:us-east-1:123456789012:dataset/orders-2025"}},
			want: "orders-2025",
		},
		{
			name: "first matching ref wins",
			refs: []types.ResourceRef{
				{Name: "123456789012"},
				{Name: "arn:aws:quicksight:us-east-1:123456789012:dashboard/ops"},
			},
			want: "ops",
		},
		{
			name: "payload fallback when refs do not match",
			refs: []types.ResourceRef{{Name: "123456789012"}},
			payload: &eventPayload{Resources: []payloadResource{
				{ARN: "arn:aws:quicksight:us-east-1:123456789012:dashboard/finance"},
			}},
			want: "finance",
		},
		{
			name:    "no match anywhere",
			refs:    []types.ResourceRef{{Name: "123456789012"}},
			payload: &eventPayload{},
			want:    "",
		},
		{
			name: "datasource arn is not an asset pattern",
			refs: []types.ResourceRef{{Name: "arn:aws:quicksight:us-east-1:123456789012:datasource/redshift-main"}},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractResourceName(tt.refs, tt.payload))
		})
	}
}
