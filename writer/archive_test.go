package writer

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/stats"
)

type fakeS3 struct {
	mu   sync.Mutex
	keys []string
	body []byte
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.keys = append(f.keys, *params.Key)
	f.body = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) keyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

func testArchiver(client s3API) *DetectionArchiver {
	return &DetectionArchiver{
		cfg: config.S3Config{
			Bucket:           "odl-archive",
			Prefix:           "odl",
			FlushIntervalSec: 300,
			Compression:      "snappy",
		},
		s3Client: client,
		now:      func() time.Time { return time.Unix(1554756870, 0) },
		wg:       &sync.WaitGroup{},
		ctx:      context.Background(),
		log:      logger.GetLogger(),
	}
}

func TestArchiveKeyPartitioning(t *testing.T) {
	w := testArchiver(&fakeS3{})

	key := w.archiveKey(time.Date(2019, 4, 8, 20, 54, 30, 0, time.UTC))
	if !strings.HasPrefix(key, "odl/detections/year=2019/month=04/day=08/odl_20190408205430_") {
		t.Errorf("unexpected key layout: %s", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Errorf("key should end in .parquet: %s", key)
	}
}

func TestCreateParquetFile(t *testing.T) {
	w := testArchiver(&fakeS3{})

	records := []DetectionRecord{
		{Source: "bitstamp", Dest: "bitso", XRP: 5000, USD: 2051, DetectedAt: 1554756870},
		{Source: "bitso", Dest: "coins.ph", XRP: 120.5, USD: 49.43, DetectedAt: 1554756900},
	}
	data, err := w.createParquetFile(records)
	if err != nil {
		t.Fatalf("createParquetFile failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("parquet output should not be empty")
	}
	// Parquet files start and end with the PAR1 magic bytes.
	if string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Error("output is not a parquet file")
	}
}

func TestFlushUploadsBufferedDetections(t *testing.T) {
	client := &fakeS3{}
	w := testArchiver(client)

	w.Notify(models.ODLDetection{Quantity: 5000, USDValue: 2051, DetectedAt: 1554756870}, "bitstamp", "bitso", stats.Totals{})
	w.flush("test")

	if client.keyCount() != 1 {
		t.Fatalf("expected one upload, got %d", client.keyCount())
	}
	if len(w.buffer) != 0 {
		t.Errorf("buffer should be drained after flush")
	}

	// Nothing buffered, nothing uploaded.
	w.flush("test")
	if client.keyCount() != 1 {
		t.Errorf("empty flush should not upload")
	}
}

func TestSnapshotUploaderFixedKey(t *testing.T) {
	client := &fakeS3{}
	u := &SnapshotUploader{
		cfg:      config.S3Config{Bucket: "odl-archive", Prefix: "odl"},
		s3Client: client,
		log:      logger.GetLogger(),
	}

	if err := u.Upload(context.Background(), []byte(`[]`)); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if client.keys[0] != "odl/snapshots/odl-stats.json" {
		t.Errorf("snapshot key = %s", client.keys[0])
	}
	if string(client.body) != `[]` {
		t.Errorf("snapshot body = %s", client.body)
	}
}

func TestKafkaWriterRequiresBrokers(t *testing.T) {
	if _, err := NewDetectionKafkaWriter(config.KafkaConfig{Topic: "odl"}); err == nil {
		t.Error("missing brokers should be rejected")
	}
}
