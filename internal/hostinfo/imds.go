package hostinfo

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	logx "iris/pkg/logx"
)

// metadataAPI is the subset of *imds.Client used here.
type metadataAPI interface {
	GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error)
}

// newMetadataClient is a var so tests can swap in a fake.
var newMetadataClient = func() metadataAPI {
	return imds.New(imds.Options{})
}

// IMDSProvider reads instance tags through the EC2 instance metadata
// service (requires "allow tags in instance metadata" on the instance).
type IMDSProvider struct {
	client metadataAPI
	log    logx.Logger
}

func NewIMDSProvider(log logx.Logger) *IMDSProvider {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &IMDSProvider{client: newMetadataClient(), log: log}
}

func (p *IMDSProvider) Instance(ctx context.Context) (Instance, error) {
	id, err := p.get(ctx, "instance-id")
	if err != nil {
		return Instance{}, fmt.Errorf("instance id: %w", err)
	}
	keys, err := p.get(ctx, "tags/instance")
	if err != nil {
		return Instance{}, fmt.Errorf("instance %s tag keys: %w", id, err)
	}

	tags := map[string]string{}
	for _, key := range strings.Split(keys, "\n") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		v, err := p.get(ctx, "tags/instance/"+key)
		if err != nil {
			return Instance{}, fmt.Errorf("instance %s tag %q: %w", id, key, err)
		}
		tags[key] = v
	}

	host, _ := os.Hostname()
	p.log.Debug("read instance tags", logx.String("instance_id", id), logx.Int("tags", len(tags)))
	return Instance{ID: id, Hostname: host, Tags: tags}, nil
}

func (p *IMDSProvider) get(ctx context.Context, path string) (string, error) {
	out, err := p.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return "", err
	}
	defer out.Content.Close()
	b, err := io.ReadAll(out.Content)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// StaticProvider serves fixed tags (dev mode and tests).
type StaticProvider struct {
	ID   string
	Tags map[string]string
}

func (p StaticProvider) Instance(ctx context.Context) (Instance, error) {
	host, _ := os.Hostname()
	id := p.ID
	if id == "" {
		id = "static"
	}
	tags := make(map[string]string, len(p.Tags))
	for k, v := range p.Tags {
		tags[k] = v
	}
	return Instance{ID: id, Hostname: host, Tags: tags}, nil
}
