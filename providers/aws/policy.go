package aws

import (
	"encoding/json"
	"fmt"
)

// PolicyDocument is a typed IAM policy document. Building documents as
// structs instead of raw strings keeps the action and resource lists
// diffable in plans.
type PolicyDocument struct {
	Version   string            `json:"Version"`
	Statement []PolicyStatement `json:"Statement"`
}

type PolicyStatement struct {
	Sid       string           `json:"Sid,omitempty"`
	Effect    string           `json:"Effect"`
	Principal *PolicyPrincipal `json:"Principal,omitempty"`
	Action    []string         `json:"Action"`
	Resource  []string         `json:"Resource,omitempty"`
}

type PolicyPrincipal struct {
	Service []string `json:"Service,omitempty"`
	AWS     []string `json:"AWS,omitempty"`
}

const policyVersion = "2012-10-17"

// JSON renders the document in the canonical form IAM expects.
func (d *PolicyDocument) JSON() (string, error) {
	doc := *d
	if doc.Version == "" {
		doc.Version = policyVersion
	}
	for i, stmt := range doc.Statement {
		if stmt.Effect == "" {
			return "", fmt.Errorf("statement %d missing effect", i)
		}
		if len(stmt.Action) == 0 {
			return "", fmt.Errorf("statement %d missing actions", i)
		}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ServiceAssumeRolePolicy builds a trust policy allowing the given AWS
// service principal to assume the role.
func ServiceAssumeRolePolicy(service string) *PolicyDocument {
	return &PolicyDocument{
		Version: policyVersion,
		Statement: []PolicyStatement{
			{
				Effect:    "Allow",
				Principal: &PolicyPrincipal{Service: []string{service}},
				Action:    []string{"sts:AssumeRole"},
			},
		},
	}
}

// PublicReadBucketPolicy grants anonymous s3:GetObject on every object
// in the bucket.
func PublicReadBucketPolicy(bucketArn string) *PolicyDocument {
	return &PolicyDocument{
		Version: policyVersion,
		Statement: []PolicyStatement{
			{
				Sid:       "PublicReadGetObject",
				Effect:    "Allow",
				Principal: &PolicyPrincipal{AWS: []string{"*"}},
				Action:    []string{"s3:GetObject"},
				Resource:  []string{bucketArn + "/*"},
			},
		},
	}
}
