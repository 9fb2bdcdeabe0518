package blob

import (
	"context"
	"strings"
	"testing"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		opts Options
		want Driver
	}{
		{"default is fs", Options{FSRoot: t.TempDir()}, DriverFilesystem},
		{"memory", Options{Driver: DriverMemory}, DriverMemory},
		{"s3", Options{Driver: DriverS3, S3: S3Config{Bucket: "attachments", AccessKeyID: "AKIA", SecretAccessKey: "SECRET"}}, DriverS3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Open(ctx, tc.opts)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if s.Driver() != tc.want {
				t.Fatalf("driver = %s, want %s", s.Driver(), tc.want)
			}
		})
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "ftp"}); err == nil || !strings.Contains(err.Error(), "unknown blob driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
	if _, err := Open(context.Background(), Options{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestNewMockS3ForTestsRoundTrip(t *testing.T) {
	s := NewMockS3ForTests()
	ctx := context.Background()
	if _, err := s.Put(ctx, ExportKey("x"), strings.NewReader("id\n"), PutOptions{ContentType: "text/csv"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Head(ctx, "exports/x.csv"); err != nil {
		t.Fatalf("head: %v", err)
	}
}
