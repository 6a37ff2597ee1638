package store

import (
	"bytes"
	"io"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// S3 is a Store kept in an AWS S3 bucket. Items are buffered in memory and
// stored with a single PUT on Close, which is plenty for the uploaded
// documents and filled results this system handles. Do not change Bucket or
// Prefix concurrently with calls using the structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
}

var _ Store = &S3{}

// NewS3 creates an S3 store on the given bucket, prepending prefix to every
// key so one bucket can hold more than one store. The credentials in the
// session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

// List returns every key in this store, honoring the store's Prefix.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		keys, err := s.ListPrefix("")
		if err != nil {
			return
		}
		for _, k := range keys {
			out <- k
		}
	}()
	return out
}

// ListPrefix returns the keys in this store beginning with prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(*item.Key, s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		log.Println("S3 ListPrefix:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
	}
	return result, err
}

// Open downloads the item into memory and returns a reader over it.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	output, err := s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		return nil, 0, err
	}
	defer output.Body.Close()
	var buf bytes.Buffer
	_, err = io.Copy(&buf, output.Body)
	if err != nil {
		return nil, 0, err
	}
	return &s3reader{r: bytes.NewReader(buf.Bytes())}, int64(buf.Len()), nil
}

// Create returns a writer which uploads the item when closed.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	_, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err == nil {
		return nil, ErrKeyExists
	}
	return &s3writer{parent: s, key: s.Prefix + key}, nil
}

// Delete removes the given key. It is not an error to delete something that
// doesn't exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": key})
	}
	return err
}

type s3reader struct {
	r *bytes.Reader
}

func (r *s3reader) ReadAt(p []byte, off int64) (int, error) { return r.r.ReadAt(p, off) }
func (r *s3reader) Close() error                            { return nil }

type s3writer struct {
	parent *S3
	key    string
	buf    bytes.Buffer
}

func (w *s3writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *s3writer) Close() error {
	_, err := w.parent.svc.PutObject(&s3.PutObjectInput{
		Body:          bytes.NewReader(w.buf.Bytes()),
		Bucket:        aws.String(w.parent.Bucket),
		Key:           aws.String(w.key),
		ContentLength: aws.Int64(int64(w.buf.Len())),
	})
	if err != nil {
		log.Println("S3 Close:", w.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": w.parent.Bucket, "Key": w.key})
	}
	return err
}
