package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultMatchingField is the manifest category holding the main game files
const DefaultMatchingField = "game"

// SophonHTTPClient talks to the branch API that lists build and patch manifests
type SophonHTTPClient struct {
	Client *http.Client
}

// NewSophonHTTPClient creates a new SophonHTTPClient instance
func NewSophonHTTPClient(client *http.Client) *SophonHTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &SophonHTTPClient{Client: client}
}

func getBranchJson[T any](ctx context.Context, client *http.Client, url, httpMethod string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, httpMethod, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HttpStatusError{Url: url, StatusCode: resp.StatusCode}
	}

	var branch T
	if err := json.NewDecoder(resp.Body).Decode(&branch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return &branch, nil
}

// GetSophonBranchInfo retrieves the build branch information
func (c *SophonHTTPClient) GetSophonBranchInfo(ctx context.Context, url string, httpMethod string) (*SophonManifestBuildBranch, error) {
	return getBranchJson[SophonManifestBuildBranch](ctx, c.Client, url, httpMethod)
}

// GetSophonBranchInfoPatch retrieves the patch branch information
func (c *SophonHTTPClient) GetSophonBranchInfoPatch(ctx context.Context, url string, httpMethod string) (*SophonManifestPatchBranch, error) {
	return getBranchJson[SophonManifestPatchBranch](ctx, c.Client, url, httpMethod)
}

// CreateSophonChunkManifestInfoPair resolves the build manifest of matchingField
func (c *SophonHTTPClient) CreateSophonChunkManifestInfoPair(ctx context.Context, url string, matchingField string) (*SophonChunkManifestInfoPair, error) {
	branch, err := c.GetSophonBranchInfo(ctx, url, http.MethodGet)
	if err != nil {
		return nil, fmt.Errorf("failed to get branch info: %w", err)
	}

	if branch.Data == nil {
		return &SophonChunkManifestInfoPair{
			ReturnCode:    branch.ReturnCode,
			ReturnMessage: branch.ReturnMessage,
		}, nil
	}

	pair := &SophonChunkManifestInfoPair{OtherSophonBuildData: branch.Data}
	return pair.GetOtherManifestInfoPair(matchingField)
}

// CreateSophonPatchManifestInfoPair resolves the patch manifest of matchingField for
// an installation currently at versionUpdateFrom
func (c *SophonHTTPClient) CreateSophonPatchManifestInfoPair(ctx context.Context, url string, versionUpdateFrom string, matchingField string) (*SophonChunkManifestInfoPair, error) {
	branch, err := c.GetSophonBranchInfoPatch(ctx, url, http.MethodPost)
	if err != nil {
		return nil, fmt.Errorf("failed to get patch branch info: %w", err)
	}

	if branch.Data == nil {
		return &SophonChunkManifestInfoPair{
			ReturnCode:    branch.ReturnCode,
			ReturnMessage: branch.ReturnMessage,
		}, nil
	}

	pair := &SophonChunkManifestInfoPair{OtherSophonPatchData: branch.Data}
	return pair.GetOtherPatchInfoPair(matchingField, versionUpdateFrom)
}
