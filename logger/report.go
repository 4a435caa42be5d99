package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type venueStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream  int64
	errorsLedger  int64
	warnsStream   int64
	warnsLedger   int64
	ledgerReads   int64
	detections    int64
	evictions     int64
	reconnects    int64
	venueChannels sync.Map // map[string]*venueStat
)

func recordWarn(component string) {
	if strings.Contains(component, "ledger") {
		atomic.AddInt64(&warnsLedger, 1)
	} else if strings.Contains(component, "reader") {
		atomic.AddInt64(&warnsStream, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "ledger") {
		atomic.AddInt64(&errorsLedger, 1)
	} else if strings.Contains(component, "reader") {
		atomic.AddInt64(&errorsStream, 1)
	}
}

func IncrementVenueRead(venue string, size int) {
	recordVenue(venue, size)
}

func IncrementLedgerRead(size int) {
	atomic.AddInt64(&ledgerReads, 1)
	recordVenue("xrpledger", size)
}

func IncrementDetection() {
	atomic.AddInt64(&detections, 1)
}

func IncrementEvictions(n int) {
	atomic.AddInt64(&evictions, int64(n))
}

func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

func recordVenue(name string, size int) {
	v, _ := venueChannels.LoadOrStore(name, &venueStat{})
	vs := v.(*venueStat)
	atomic.AddInt64(&vs.messages, 1)
	atomic.AddInt64(&vs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and venue statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	venueData := map[string]map[string]int64{}
	venueChannels.Range(func(k, v any) bool {
		name := k.(string)
		vs := v.(*venueStat)
		venueData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&vs.messages),
			"bytes":    atomic.LoadInt64(&vs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_stream": atomic.LoadInt64(&errorsStream),
		"errors_ledger": atomic.LoadInt64(&errorsLedger),
		"warns_stream":  atomic.LoadInt64(&warnsStream),
		"warns_ledger":  atomic.LoadInt64(&warnsLedger),
		"ledger_reads":  atomic.LoadInt64(&ledgerReads),
		"detections":    atomic.LoadInt64(&detections),
		"evictions":     atomic.LoadInt64(&evictions),
		"reconnects":    atomic.LoadInt64(&reconnects),
		"goroutines":    runtime.NumGoroutine(),
		"cpu_percent":   cpuPct,
		"memory_mb":     int64(memStats.Used) / 1024 / 1024,
		"disk_mb":       int64(diskStats.Used) / 1024 / 1024,
		"venues":        venueData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("ODL-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-ErrorsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_stream"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-ErrorsLedger"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_ledger"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-WarnsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_stream"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-WarnsLedger"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_ledger"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-LedgerReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["ledger_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-Detections"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["detections"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-Evictions"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["evictions"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["reconnects"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("ODL-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range venueData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ODL-VenueMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Venue"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ODL-VenueBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Venue"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
