// Copyright 2024 Statlake Authors.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package storage is the blob store behind every statlake dataset: a
// single flat bucket of named CSV/JSON/Parquet objects with
// overwrite-on-write semantics and no concurrency control. The bucket
// is created lazily on first use.
package storage

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
)

// ErrNotFound is returned by operations which require the named object
// to exist (Delete). Read deliberately does not use it - a missing read
// target is a soft nil so callers can tell "missing" from "broken".
var ErrNotFound = errors.New("object not found")

// Config holds everything needed to reach one bucket. It is built once
// at process start and passed in explicitly; there is no ambient
// global.
type Config struct {
	Region   string
	Bucket   string
	Endpoint string // optional override for S3-compatible stores
	// PathStyle forces path-style addressing, which most non-AWS
	// S3-compatible endpoints require.
	PathStyle bool
}

// ObjectInfo describes one stored blob.
type ObjectInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ConnectionReport is the result of Ping - a connection check suitable
// for returning to an operator.
type ConnectionReport struct {
	BucketExists bool         `json:"bucket_exists"`
	SampleBlobs  []ObjectInfo `json:"sample_blobs"`
	CheckedAt    time.Time    `json:"checked_at"`
}

// Client is a blob storage client for one bucket. All writes overwrite;
// last writer wins.
type Client struct {
	cfg Config
	api s3iface.S3API
	log *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// NewClient builds a Client from cfg. It does not touch the network;
// the bucket is checked (and created if absent) on first use.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.PathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating session")
	}
	return &Client{cfg: cfg, api: s3.New(sess), log: log}, nil
}

// NewClientWithAPI builds a Client on top of an existing S3 API
// implementation. Tests use this to substitute a fake.
func NewClientWithAPI(cfg Config, api s3iface.S3API, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, api: api, log: log}
}

// Bucket returns the bucket name this client operates on.
func (c *Client) Bucket() string { return c.cfg.Bucket }

// EnsureBucket creates the bucket if it does not exist. It is
// idempotent and runs at most once per client.
func (c *Client) EnsureBucket() error {
	c.ensureOnce.Do(func() {
		c.ensureErr = c.ensureBucket()
	})
	return c.ensureErr
}

func (c *Client) ensureBucket() error {
	_, err := c.api.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(c.cfg.Bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return errors.Wrapf(err, "checking bucket %s", c.cfg.Bucket)
	}
	_, err = c.api.CreateBucket(&s3.CreateBucketInput{Bucket: aws.String(c.cfg.Bucket)})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeBucketAlreadyOwnedByYou, s3.ErrCodeBucketAlreadyExists:
				return nil
			}
		}
		return errors.Wrapf(err, "creating bucket %s", c.cfg.Bucket)
	}
	c.log.Info("created bucket", zap.String("bucket", c.cfg.Bucket))
	return nil
}

// List returns the objects whose names start with prefix. The namespace
// is flat; prefix matching is purely lexical. An empty prefix lists
// everything.
func (c *Client) List(prefix string) ([]ObjectInfo, error) {
	if err := c.EnsureBucket(); err != nil {
		return nil, err
	}
	input := &s3.ListObjectsInput{Bucket: aws.String(c.cfg.Bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	var infos []ObjectInfo
	for {
		resp, err := c.api.ListObjects(input)
		if err != nil {
			return nil, errors.Wrapf(err, "listing objects with prefix %q", prefix)
		}
		for _, obj := range resp.Contents {
			info := ObjectInfo{Name: aws.StringValue(obj.Key), Size: aws.Int64Value(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
		if !aws.BoolValue(resp.IsTruncated) {
			break
		}
		input.Marker = resp.NextMarker
		if input.Marker == nil && len(resp.Contents) > 0 {
			input.Marker = resp.Contents[len(resp.Contents)-1].Key
		}
	}
	return infos, nil
}

// Write encodes recs in the given format and overwrites the named
// object. There is no optimistic concurrency and no partial-write
// protection; a failure partway through the upload may leave the
// previous object or nothing at all.
func (c *Client) Write(name string, recs []statlake.Record, f Format) error {
	if err := c.EnsureBucket(); err != nil {
		return err
	}
	data, err := Encode(recs, f)
	if err != nil {
		return errors.Wrapf(err, "encoding %s as %s", name, f)
	}
	_, err = c.api.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(f.ContentType()),
	})
	if err != nil {
		return errors.Wrapf(err, "uploading %s", name)
	}
	c.log.Info("wrote blob",
		zap.String("name", name),
		zap.String("format", f.String()),
		zap.Int("rows", len(recs)),
		zap.Int("bytes", len(data)))
	return nil
}

// Read downloads and decodes the named object. A missing object returns
// (nil, nil) so callers can distinguish "not there yet" from a real
// failure.
func (c *Client) Read(name string, f Format) ([]statlake.Record, error) {
	if err := c.EnsureBucket(); err != nil {
		return nil, err
	}
	resp, err := c.api.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			c.log.Warn("blob does not exist", zap.String("name", name))
			return nil, nil
		}
		return nil, errors.Wrapf(err, "fetching %s", name)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading body of %s", name)
	}
	recs, err := Decode(data, f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s as %s", name, f)
	}
	return recs, nil
}

// Delete removes the named object. Deleting an object that does not
// exist returns ErrNotFound.
func (c *Client) Delete(name string) error {
	if err := c.EnsureBucket(); err != nil {
		return err
	}
	_, err := c.api.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "checking %s", name)
	}
	_, err = c.api.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return errors.Wrapf(err, "deleting %s", name)
	}
	c.log.Info("deleted blob", zap.String("name", name))
	return nil
}

// Ping checks that the bucket is reachable and returns a small sample
// of its contents.
func (c *Client) Ping() (ConnectionReport, error) {
	report := ConnectionReport{CheckedAt: time.Now().UTC()}
	if err := c.EnsureBucket(); err != nil {
		return report, err
	}
	report.BucketExists = true
	resp, err := c.api.ListObjects(&s3.ListObjectsInput{
		Bucket:  aws.String(c.cfg.Bucket),
		MaxKeys: aws.Int64(3),
	})
	if err != nil {
		return report, errors.Wrap(err, "sampling bucket contents")
	}
	for _, obj := range resp.Contents {
		info := ObjectInfo{Name: aws.StringValue(obj.Key), Size: aws.Int64Value(obj.Size)}
		if obj.LastModified != nil {
			info.LastModified = *obj.LastModified
		}
		report.SampleBlobs = append(report.SampleBlobs, info)
	}
	return report, nil
}

func isNotFound(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
		return true
	}
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		return reqErr.StatusCode() == 404
	}
	return false
}
