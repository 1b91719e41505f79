package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/cotrelay/server/pkg/core"
)

// Buckets written by the server.
const (
	BucketTracks  = "tracks"
	BucketDevices = "devices"
)

// DefaultBucketNames are created on connect when missing.
var DefaultBucketNames = []string{BucketTracks, BucketDevices}

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	backupFile *os.File
	backupMu   sync.Mutex
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: DefaultBucketNames,
		Logger:      log,
		BackupPath:  backupPath,
	}
}

// Connect opens the client and prepares the buckets. When the server
// cannot be reached, points are written gzip-compressed in line protocol
// to BackupPath so they can be imported later.
func (m *Manager) Connect() error {
	if !viper.GetBool("influx.enabled") {
		return errors.New("influx is disabled")
	}

	url := fmt.Sprintf("%s://%s:%s",
		viper.GetString("influx.protocol"), viper.GetString("influx.host"), viper.GetString("influx.port"))
	m.Client = influxdb2.NewClientWithOptions(url, viper.GetString("influx.token"),
		influxdb2.DefaultOptions().SetBatchSize(2500).SetFlushInterval(1000))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ok, err := m.Client.Ping(ctx); err != nil || !ok {
		m.Logger.Warn().Err(err).Str("url", url).Str("backupPath", m.BackupPath).
			Msg("InfluxDB unreachable, writing points to backup file")
		return m.openBackup()
	}

	if err := m.ensureBuckets(ctx); err != nil {
		return err
	}
	org := viper.GetString("influx.org")
	for _, bucket := range m.BucketNames {
		w := m.Client.WriteAPI(org, bucket)
		m.Writers[bucket] = w
		go m.logWriteErrors(bucket, w.Errors())
	}
	m.IsValid = true
	m.Logger.Info().Str("url", url).Strs("buckets", m.BucketNames).Msg("InfluxDB connected")
	return nil
}

func (m *Manager) openBackup() error {
	if m.BackupWriter != nil {
		return nil
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open influx backup: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

// ensureBuckets creates the organization and any missing bucket. Buckets
// expire data after influx.retentionDays.
func (m *Manager) ensureBuckets(ctx context.Context) error {
	orgs := m.Client.OrganizationsAPI()
	name := viper.GetString("influx.org")
	org, err := orgs.FindOrganizationByName(ctx, name)
	if err != nil {
		m.Logger.Info().Str("org", name).Msg("creating InfluxDB organization")
		if org, err = orgs.CreateOrganizationWithName(ctx, name); err != nil {
			return fmt.Errorf("create influx org %s: %w", name, err)
		}
	}

	expire := domain.RetentionRuleTypeExpire
	retention := domain.RetentionRule{
		Type:         &expire,
		EverySeconds: int64(viper.GetInt("influx.retentionDays")) * 24 * 60 * 60,
	}
	buckets := m.Client.BucketsAPI()
	for _, bucket := range m.BucketNames {
		if _, err := buckets.FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Msg("creating InfluxDB bucket")
		if _, err := buckets.CreateBucketWithName(ctx, org, bucket, retention); err != nil {
			return fmt.Errorf("create influx bucket %s: %w", bucket, err)
		}
	}
	return nil
}

func (m *Manager) logWriteErrors(bucket string, errs <-chan error) {
	for err := range errs {
		m.Logger.Error().Err(err).Str("bucket", bucket).Msg("InfluxDB write failed")
	}
}

// WritePoint queues point on the bucket writer, or appends it to the
// backup file while disconnected. ctx is unused by the async writer.
func (m *Manager) WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influx bucket %q not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.backupMu.Lock()
	defer m.backupMu.Unlock()
	if m.BackupWriter == nil {
		return errors.New("influx not connected and no backup file open")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("write influx backup: %w", err)
	}
	return nil
}

// Close flushes the writers and the backup file.
func (m *Manager) Close() error {
	if m.Client != nil {
		for _, w := range m.Writers {
			w.Flush()
		}
		m.Client.Close()
	}
	m.backupMu.Lock()
	defer m.backupMu.Unlock()
	if m.BackupWriter != nil {
		if err := m.BackupWriter.Close(); err != nil {
			return fmt.Errorf("closing InfluxDB backup file: %w", err)
		}
		if m.backupFile != nil {
			return m.backupFile.Close()
		}
	}
	return nil
}

// WriteTrack writes one position fix to the tracks bucket.
func (m *Manager) WriteTrack(p *core.Point) error {
	return m.WritePoint(context.Background(), BucketTracks, TrackPoint(p))
}

// WriteTelemetry writes one device state sample to the devices bucket.
func (m *Manager) WriteTelemetry(t *core.DeviceTelemetry) error {
	return m.WritePoint(context.Background(), BucketDevices, TelemetryPoint(t))
}

// TrackPoint builds the "track" measurement for a position fix.
func TrackPoint(p *core.Point) *influxdb2_write.Point {
	pt := influxdb2_write.NewPointWithMeasurement("track").
		AddTag("uid", p.UID).
		AddTag("sender", p.SenderUID).
		AddField("lat", p.Latitude).
		AddField("lon", p.Longitude).
		AddField("hae", p.Hae).
		AddField("ce", p.Ce).
		AddField("le", p.Le).
		SetTime(timeOrNow(p.Time))
	if p.LocationSource != "" {
		pt.AddTag("source", p.LocationSource)
	}
	if p.Course != nil {
		pt.AddField("course", *p.Course)
	}
	if p.Speed != nil {
		pt.AddField("speed", *p.Speed)
	}
	return pt
}

// TelemetryPoint builds the "device" measurement for a telemetry sample.
func TelemetryPoint(t *core.DeviceTelemetry) *influxdb2_write.Point {
	pt := influxdb2_write.NewPointWithMeasurement("device").
		AddTag("uid", t.UID).
		AddField("status", t.Status).
		SetTime(timeOrNow(t.LastEventTime))
	for tag, v := range map[string]string{"callsign": t.Callsign, "platform": t.Platform, "team": t.Team} {
		if v != "" {
			pt.AddTag(tag, v)
		}
	}
	if t.Battery != nil {
		pt.AddField("battery", *t.Battery)
	}
	return pt
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
