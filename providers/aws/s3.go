package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	pv "github.com/heatstack-io/heatstack/pkg/provider"
)

type BucketConfig struct {
	Name         string            `json:"name"`
	ForceDestroy bool              `json:"forceDestroy"`
	Tags         map[string]string `json:"tags"`
}

type BucketState struct {
	Name         string `json:"name"`
	Arn          string `json:"arn"`
	ForceDestroy bool   `json:"forceDestroy"`
}

func (p *Provider) applyBucket(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior BucketState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			if prior.ForceDestroy {
				if err := p.emptyBucket(ctx, prior.Name); err != nil {
					return nil, err
				}
			}
			_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &prior.Name})
			if err != nil {
				return nil, fmt.Errorf("failed to delete bucket: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired BucketConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	input := &s3.CreateBucketInput{Bucket: &desired.Name}
	// us-east-1 rejects an explicit LocationConstraint.
	if p.region != "" && p.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(p.region),
		}
	}

	if _, err := p.s3Client.CreateBucket(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	if len(desired.Tags) > 0 {
		var tagSet []types.Tag
		for k, v := range desired.Tags {
			tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		_, err := p.s3Client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
			Bucket:  &desired.Name,
			Tagging: &types.Tagging{TagSet: tagSet},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to tag bucket: %w", err)
		}
	}

	newState := BucketState{
		Name:         desired.Name,
		Arn:          "arn:aws:s3:::" + desired.Name,
		ForceDestroy: desired.ForceDestroy,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) emptyBucket(ctx context.Context, name string) error {
	paginator := s3.NewListObjectsV2Paginator(p.s3Client, &s3.ListObjectsV2Input{Bucket: &name})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects in %s: %w", name, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		var ids []types.ObjectIdentifier
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = p.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &name,
			Delete: &types.Delete{Objects: ids},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects in %s: %w", name, err)
		}
	}
	return nil
}

type PublicAccessBlockConfig struct {
	Bucket                string `json:"bucket"`
	BlockPublicAcls       bool   `json:"blockPublicAcls"`
	BlockPublicPolicy     bool   `json:"blockPublicPolicy"`
	IgnorePublicAcls      bool   `json:"ignorePublicAcls"`
	RestrictPublicBuckets bool   `json:"restrictPublicBuckets"`
}

type PublicAccessBlockState struct {
	Bucket string `json:"bucket"`
}

func (p *Provider) applyPublicAccessBlock(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior PublicAccessBlockState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err == nil && prior.Bucket != "" {
			_, err := p.s3Client.DeletePublicAccessBlock(ctx, &s3.DeletePublicAccessBlockInput{
				Bucket: &prior.Bucket,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to delete public access block: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired PublicAccessBlockConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	_, err := p.s3Client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: &desired.Bucket,
		PublicAccessBlockConfiguration: &types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(desired.BlockPublicAcls),
			BlockPublicPolicy:     aws.Bool(desired.BlockPublicPolicy),
			IgnorePublicAcls:      aws.Bool(desired.IgnorePublicAcls),
			RestrictPublicBuckets: aws.Bool(desired.RestrictPublicBuckets),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put public access block: %w", err)
	}

	newState := PublicAccessBlockState{Bucket: desired.Bucket}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type BucketPolicyConfig struct {
	Bucket     string          `json:"bucket"`
	Document   *PolicyDocument `json:"document"`
	PublicRead bool            `json:"publicRead"`
}

type BucketPolicyState struct {
	Bucket string `json:"bucket"`
}

func (p *Provider) applyBucketPolicy(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior BucketPolicyState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err == nil && prior.Bucket != "" {
			_, err := p.s3Client.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{Bucket: &prior.Bucket})
			if err != nil {
				return nil, fmt.Errorf("failed to delete bucket policy: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired BucketPolicyConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}
	if desired.Document == nil && desired.PublicRead {
		desired.Document = PublicReadBucketPolicy("arn:aws:s3:::" + desired.Bucket)
	}
	if desired.Document == nil {
		return nil, fmt.Errorf("bucket policy for %q requires a document", desired.Bucket)
	}

	doc, err := desired.Document.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode bucket policy: %w", err)
	}

	_, err = p.s3Client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: &desired.Bucket,
		Policy: &doc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put bucket policy: %w", err)
	}

	newState := BucketPolicyState{Bucket: desired.Bucket}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}
