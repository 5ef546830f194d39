package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	ticksReceived  int64
	tickBytes      int64
	framesDropped  int64
	reconnects     int64
	ordersPlaced   int64
	requestErrors  int64
	ticksRecorded  int64
	componentStats sync.Map // map[string]*componentStat
)

func recordWarn(component string) {
	v, _ := componentStats.LoadOrStore(component, &componentStat{})
	atomic.AddInt64(&v.(*componentStat).warns, 1)
}

func recordError(component string) {
	v, _ := componentStats.LoadOrStore(component, &componentStat{})
	atomic.AddInt64(&v.(*componentStat).errors, 1)
}

// IncrementTickReceived counts one normalized market tick and its raw frame
// size.
func IncrementTickReceived(size int) {
	atomic.AddInt64(&ticksReceived, 1)
	atomic.AddInt64(&tickBytes, int64(size))
}

// IncrementFrameDropped counts one malformed stream frame.
func IncrementFrameDropped() {
	atomic.AddInt64(&framesDropped, 1)
}

// IncrementReconnect counts one stream reconnection attempt.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// IncrementOrderPlaced counts one accepted order submission.
func IncrementOrderPlaced() {
	atomic.AddInt64(&ordersPlaced, 1)
}

// IncrementRequestError counts one non-2xx REST response.
func IncrementRequestError() {
	atomic.AddInt64(&requestErrors, 1)
}

// IncrementTickRecorded counts one tick flushed by the recorder.
func IncrementTickRecorded() {
	atomic.AddInt64(&ticksRecorded, 1)
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

// StartReport begins periodic logging of adapter and system statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}

	componentData := map[string]map[string]int64{}
	componentStats.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		componentData[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	fields := Fields{
		"ticks_received": atomic.LoadInt64(&ticksReceived),
		"tick_bytes":     atomic.LoadInt64(&tickBytes),
		"frames_dropped": atomic.LoadInt64(&framesDropped),
		"reconnects":     atomic.LoadInt64(&reconnects),
		"orders_placed":  atomic.LoadInt64(&ordersPlaced),
		"request_errors": atomic.LoadInt64(&requestErrors),
		"ticks_recorded": atomic.LoadInt64(&ticksRecorded),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      memMB,
		"components":     componentData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("TicksReceived"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["ticks_received"].(int64)))},
		{MetricName: aws.String("FramesDropped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["frames_dropped"].(int64)))},
		{MetricName: aws.String("Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["reconnects"].(int64)))},
		{MetricName: aws.String("OrdersPlaced"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["orders_placed"].(int64)))},
		{MetricName: aws.String("RequestErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["request_errors"].(int64)))},
		{MetricName: aws.String("TicksRecorded"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["ticks_recorded"].(int64)))},
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
	}

	for name, stats := range componentData {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("ComponentErrors"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Component"), Value: aws.String(name)}},
			Value:      aws.Float64(float64(stats["errors"])),
		})
	}

	publishMetrics(ctx, data)
}
