package aws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDocument_JSON(t *testing.T) {
	doc := &PolicyDocument{
		Statement: []PolicyStatement{
			{
				Effect:   "Allow",
				Action:   []string{"s3:GetObject"},
				Resource: []string{"arn:aws:s3:::heat-risk-dashboard/*"},
			},
		},
	}

	out, err := doc.JSON()
	require.NoError(t, err)

	// Version defaults when omitted.
	assert.Contains(t, out, `"Version":"2012-10-17"`)
	assert.Contains(t, out, `"Effect":"Allow"`)
	assert.Contains(t, out, `"s3:GetObject"`)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
}

func TestPolicyDocument_JSON_MissingEffect(t *testing.T) {
	doc := &PolicyDocument{
		Statement: []PolicyStatement{
			{Action: []string{"s3:GetObject"}},
		},
	}
	_, err := doc.JSON()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing effect")
}

func TestPolicyDocument_JSON_MissingActions(t *testing.T) {
	doc := &PolicyDocument{
		Statement: []PolicyStatement{
			{Effect: "Allow"},
		},
	}
	_, err := doc.JSON()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing actions")
}

func TestServiceAssumeRolePolicy(t *testing.T) {
	doc := ServiceAssumeRolePolicy("batch.amazonaws.com")
	require.Len(t, doc.Statement, 1)

	stmt := doc.Statement[0]
	assert.Equal(t, "Allow", stmt.Effect)
	assert.Equal(t, []string{"sts:AssumeRole"}, stmt.Action)
	require.NotNil(t, stmt.Principal)
	assert.Equal(t, []string{"batch.amazonaws.com"}, stmt.Principal.Service)

	out, err := doc.JSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"Service":["batch.amazonaws.com"]`)
}

func TestPublicReadBucketPolicy(t *testing.T) {
	doc := PublicReadBucketPolicy("arn:aws:s3:::heat-risk-dashboard")
	require.Len(t, doc.Statement, 1)

	stmt := doc.Statement[0]
	assert.Equal(t, "PublicReadGetObject", stmt.Sid)
	assert.Equal(t, "Allow", stmt.Effect)
	assert.Equal(t, []string{"s3:GetObject"}, stmt.Action)
	assert.Equal(t, []string{"arn:aws:s3:::heat-risk-dashboard/*"}, stmt.Resource)
	require.NotNil(t, stmt.Principal)
	assert.Equal(t, []string{"*"}, stmt.Principal.AWS)
}

// The job role's permission policy, exactly as the dashboard stack declares
// it: six actions over the bucket, its objects, and the log streams.
func TestJobRolePolicyShape(t *testing.T) {
	doc := &PolicyDocument{
		Statement: []PolicyStatement{
			{
				Effect: "Allow",
				Action: []string{
					"s3:PutObject",
					"s3:GetObject",
					"s3:ListBucket",
					"s3:DeleteObject",
				},
				Resource: []string{
					"arn:aws:s3:::heat-risk-dashboard",
					"arn:aws:s3:::heat-risk-dashboard/*",
				},
			},
			{
				Effect: "Allow",
				Action: []string{
					"logs:CreateLogStream",
					"logs:PutLogEvents",
				},
				Resource: []string{"arn:aws:logs:*:*:*"},
			},
		},
	}

	out, err := doc.JSON()
	require.NoError(t, err)

	var parsed struct {
		Version   string `json:"Version"`
		Statement []struct {
			Action   []string `json:"Action"`
			Resource []string `json:"Resource"`
		} `json:"Statement"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "2012-10-17", parsed.Version)

	var actions, resources []string
	for _, s := range parsed.Statement {
		actions = append(actions, s.Action...)
		resources = append(resources, s.Resource...)
	}
	assert.Len(t, actions, 6)
	assert.Len(t, resources, 3)
	assert.Contains(t, actions, "s3:DeleteObject")
	assert.Contains(t, actions, "logs:PutLogEvents")
	assert.Contains(t, resources, "arn:aws:logs:*:*:*")
}
