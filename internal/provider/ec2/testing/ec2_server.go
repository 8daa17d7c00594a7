// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/juju/collections/set"
	jujutesting "github.com/juju/testing"
)

// EC2Server implements an in-memory EC2 image and snapshot simulator for
// use in testing. Every API call is recorded on the embedded Stub, and the
// errors set on the Stub are returned in call order.
type EC2Server struct {
	jujutesting.Stub

	mu sync.Mutex

	// imageOrder holds image IDs in registration order, which is the
	// order DescribeImages returns them in.
	imageOrder []string
	images     map[string]types.Image
	snapshots  map[string]*types.Snapshot
	pageSize   int
}

// NewEC2Server returns an empty EC2Server.
func NewEC2Server() *EC2Server {
	srv := &EC2Server{}
	srv.Reset()
	return srv
}

// Reset removes all images and snapshots and forgets recorded calls.
func (s *EC2Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Stub.ResetCalls()
	s.Stub.SetErrors()
	s.imageOrder = nil
	s.images = make(map[string]types.Image)
	s.snapshots = make(map[string]*types.Snapshot)
	s.pageSize = 0
}

// SetPageSize makes Describe calls return at most n results per page.
// Zero returns everything in one page.
func (s *EC2Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// AddImage registers img and creates any snapshot it references that does
// not exist yet.
func (s *EC2Server) AddImage(img types.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := aws.ToString(img.ImageId)
	if _, exists := s.images[id]; !exists {
		s.imageOrder = append(s.imageOrder, id)
	}
	if img.State == "" {
		img.State = types.ImageStateAvailable
	}
	s.images[id] = img
	for _, m := range img.BlockDeviceMappings {
		if m.Ebs == nil || m.Ebs.SnapshotId == nil {
			continue
		}
		if _, exists := s.snapshots[*m.Ebs.SnapshotId]; !exists {
			s.snapshots[*m.Ebs.SnapshotId] = &types.Snapshot{
				SnapshotId: m.Ebs.SnapshotId,
				State:      types.SnapshotStateCompleted,
			}
		}
	}
}

// AddSnapshot creates a snapshot not referenced by any image.
func (s *EC2Server) AddSnapshot(id string, tags ...types.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[id] = &types.Snapshot{
		SnapshotId: aws.String(id),
		State:      types.SnapshotStateCompleted,
		Tags:       tags,
	}
}

// ImageIDs returns the IDs of the registered images, in registration order.
func (s *EC2Server) ImageIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.imageOrder...)
}

// SnapshotIDs returns the IDs of the existing snapshots.
func (s *EC2Server) SnapshotIDs() set.Strings {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := set.NewStrings()
	for id := range s.snapshots {
		ids.Add(id)
	}
	return ids
}

// SnapshotTags returns the tags of a snapshot as a map.
func (s *EC2Server) SnapshotTags(id string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil
	}
	tags := make(map[string]string)
	for _, t := range snap.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags
}

// DescribeImages implements ec2.Client. It understands ImageIds and tag
// filters; owners are ignored because every image belongs to the caller.
func (s *EC2Server) DescribeImages(
	ctx context.Context,
	input *ec2.DescribeImagesInput,
	opts ...func(*ec2.Options),
) (*ec2.DescribeImagesOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.MethodCall(s, "DescribeImages", input)
	if err := s.NextErr(); err != nil {
		return nil, err
	}

	var matched []types.Image
	if len(input.ImageIds) > 0 {
		for _, id := range input.ImageIds {
			img, ok := s.images[id]
			if !ok {
				return nil, apiError("InvalidAMIID.NotFound", "The image id '[%s]' does not exist", id)
			}
			matched = append(matched, img)
		}
	} else {
		for _, id := range s.imageOrder {
			img := s.images[id]
			if matchesFilters(img.Tags, input.Filters) {
				matched = append(matched, img)
			}
		}
	}

	page, next, err := paginate(len(matched), s.pageSize, input.MaxResults, input.NextToken)
	if err != nil {
		return nil, err
	}
	return &ec2.DescribeImagesOutput{
		Images:    matched[page[0]:page[1]],
		NextToken: next,
	}, nil
}

// DeregisterImage implements ec2.Client.
func (s *EC2Server) DeregisterImage(
	ctx context.Context,
	input *ec2.DeregisterImageInput,
	opts ...func(*ec2.Options),
) (*ec2.DeregisterImageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := aws.ToString(input.ImageId)
	s.MethodCall(s, "DeregisterImage", id)
	if err := s.NextErr(); err != nil {
		return nil, err
	}

	if _, exists := s.images[id]; !exists {
		return nil, apiError("InvalidAMIID.NotFound", "The image id '[%s]' does not exist", id)
	}
	delete(s.images, id)
	for i, existing := range s.imageOrder {
		if existing == id {
			s.imageOrder = append(s.imageOrder[:i], s.imageOrder[i+1:]...)
			break
		}
	}
	return &ec2.DeregisterImageOutput{}, nil
}

// DescribeSnapshots implements ec2.Client. It understands tag-key and tag
// filters.
func (s *EC2Server) DescribeSnapshots(
	ctx context.Context,
	input *ec2.DescribeSnapshotsInput,
	opts ...func(*ec2.Options),
) (*ec2.DescribeSnapshotsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.MethodCall(s, "DescribeSnapshots", input)
	if err := s.NextErr(); err != nil {
		return nil, err
	}

	ids := set.NewStrings()
	for id := range s.snapshots {
		ids.Add(id)
	}
	var matched []types.Snapshot
	for _, id := range ids.SortedValues() {
		snap := s.snapshots[id]
		if matchesFilters(snap.Tags, input.Filters) {
			matched = append(matched, *snap)
		}
	}

	page, next, err := paginate(len(matched), s.pageSize, input.MaxResults, input.NextToken)
	if err != nil {
		return nil, err
	}
	return &ec2.DescribeSnapshotsOutput{
		Snapshots: matched[page[0]:page[1]],
		NextToken: next,
	}, nil
}

// DeleteSnapshot implements ec2.Client. Like EC2, it refuses to delete a
// snapshot that backs a registered image.
func (s *EC2Server) DeleteSnapshot(
	ctx context.Context,
	input *ec2.DeleteSnapshotInput,
	opts ...func(*ec2.Options),
) (*ec2.DeleteSnapshotOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := aws.ToString(input.SnapshotId)
	s.MethodCall(s, "DeleteSnapshot", id)
	if err := s.NextErr(); err != nil {
		return nil, err
	}

	if _, exists := s.snapshots[id]; !exists {
		return nil, apiError("InvalidSnapshot.NotFound", "The snapshot '%s' does not exist.", id)
	}
	for _, imageID := range s.imageOrder {
		for _, m := range s.images[imageID].BlockDeviceMappings {
			if m.Ebs != nil && aws.ToString(m.Ebs.SnapshotId) == id {
				return nil, apiError("InvalidSnapshot.InUse", "The snapshot %s is currently in use by %s", id, imageID)
			}
		}
	}
	delete(s.snapshots, id)
	return &ec2.DeleteSnapshotOutput{}, nil
}

// CreateTags implements ec2.Client for snapshot resources.
func (s *EC2Server) CreateTags(
	ctx context.Context,
	input *ec2.CreateTagsInput,
	opts ...func(*ec2.Options),
) (*ec2.CreateTagsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.MethodCall(s, "CreateTags", input.Resources, input.Tags)
	if err := s.NextErr(); err != nil {
		return nil, err
	}

	for _, id := range input.Resources {
		if _, exists := s.snapshots[id]; !exists {
			return nil, apiError("InvalidSnapshot.NotFound", "The snapshot '%s' does not exist.", id)
		}
	}
	for _, id := range input.Resources {
		snap := s.snapshots[id]
		snap.Tags = mergeTags(snap.Tags, input.Tags)
	}
	return &ec2.CreateTagsOutput{}, nil
}

func mergeTags(existing, added []types.Tag) []types.Tag {
	merged := append([]types.Tag(nil), existing...)
	for _, t := range added {
		replaced := false
		for i := range merged {
			if aws.ToString(merged[i].Key) == aws.ToString(t.Key) {
				merged[i].Value = t.Value
				replaced = true
			}
		}
		if !replaced {
			merged = append(merged, t)
		}
	}
	return merged
}

func matchesFilters(tags []types.Tag, filters []types.Filter) bool {
	for _, f := range filters {
		name := aws.ToString(f.Name)
		switch {
		case name == "tag-key":
			if !hasTag(tags, func(k, _ string) bool { return contains(f.Values, k) }) {
				return false
			}
		case strings.HasPrefix(name, "tag:"):
			key := strings.TrimPrefix(name, "tag:")
			if !hasTag(tags, func(k, v string) bool { return k == key && contains(f.Values, v) }) {
				return false
			}
		default:
			panic(fmt.Sprintf("filter %q not supported by EC2Server", name))
		}
	}
	return true
}

func hasTag(tags []types.Tag, match func(key, value string) bool) bool {
	for _, t := range tags {
		if match(aws.ToString(t.Key), aws.ToString(t.Value)) {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// paginate returns the [start, end) window of the page selected by token,
// and the token of the following page, if any.
func paginate(total, pageSize int, maxResults *int32, token *string) ([2]int, *string, error) {
	size := pageSize
	if maxResults != nil && (size == 0 || int(*maxResults) < size) {
		size = int(*maxResults)
	}
	start := 0
	if token != nil {
		var err error
		if start, err = strconv.Atoi(*token); err != nil || start > total {
			return [2]int{}, nil, apiError("InvalidPaginationToken", "The token '%s' is invalid.", *token)
		}
	}
	if size <= 0 || start+size >= total {
		return [2]int{start, total}, nil, nil
	}
	return [2]int{start, start + size}, aws.String(strconv.Itoa(start + size)), nil
}

func apiError(code, format string, args ...any) error {
	return &smithy.GenericAPIError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Fault:   smithy.FaultClient,
	}
}

// APIError returns an error shaped like the ones EC2 returns, for tests
// that need to inject failures.
func APIError(code, message string) error {
	return apiError(code, "%s", message)
}

// NewImage returns an EC2 image marked eligible with requiredTag, named
// family, created at created and backed by the given snapshots. An empty
// snapshot ID adds an ephemeral device instead.
func NewImage(id, requiredTag, family string, created time.Time, snapshots ...string) types.Image {
	tags := []types.Tag{{
		Key:   aws.String(requiredTag),
		Value: aws.String("True"),
	}}
	if family != "" {
		tags = append(tags, types.Tag{
			Key:   aws.String("Name"),
			Value: aws.String(family),
		})
	}

	var mappings []types.BlockDeviceMapping
	for i, snap := range snapshots {
		device := fmt.Sprintf("/dev/sd%c", 'a'+i)
		if snap == "" {
			mappings = append(mappings, types.BlockDeviceMapping{
				DeviceName:  aws.String(device),
				VirtualName: aws.String(fmt.Sprintf("ephemeral%d", i)),
			})
			continue
		}
		mappings = append(mappings, types.BlockDeviceMapping{
			DeviceName: aws.String(device),
			Ebs:        &types.EbsBlockDevice{SnapshotId: aws.String(snap)},
		})
	}

	return types.Image{
		ImageId:             aws.String(id),
		CreationDate:        aws.String(created.UTC().Format("2006-01-02T15:04:05.000Z")),
		Tags:                tags,
		BlockDeviceMappings: mappings,
	}
}
