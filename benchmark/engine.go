package benchmark

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"example.com/bendulum-clock/base/zaplog"
	"example.com/bendulum-clock/core/engine"
	"example.com/bendulum-clock/driver/sim"
)

// RunEngineBenchmark drives simulated engines through a full calibration
// pass and a long steady-state run, recording per-beat processing latency.
func RunEngineBenchmark(numEngines, numBeats int) {
	var mu sync.Mutex
	sg := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(numEngines)
	for i := numEngines; i > 0; i-- {
		go func() {
			hg := hdrhistogram.New(1, 50000, 5)

			blog := zaplog.Logger()
			bend := sim.NewBendulum(blog, sim.BendulumConfig{
				TempCoeffPPM: 8,
				SkewPPM:      120,
				JitterPPM:    400,
			})
			eng := engine.New(blog, &sim.Clock{}, engine.Config{
				TemperatureCompensated: true,
				SupportsRTCCalibration: true,
			}, bend, &sim.Movement{}, &sim.Store{}, &sim.Intents{}, &sim.Feedback{})

			defer wg.Done()
			<-sg
			for j := numBeats; j > 0; j-- {
				b, _ := bend.PollBeat()

				t0 := time.Now()
				eng.ProcessBeat(b)
				d := time.Since(t0)

				err := hg.RecordValue(d.Microseconds())
				if err != nil {
					log.Printf("Failed to record histogram value: %v", err)
					return
				}
			}
			mu.Lock()
			defer mu.Unlock()
			hg.PercentilesPrint(os.Stdout, 1, 1.0)
		}()
	}
	t0 := time.Now()
	close(sg)
	wg.Wait()
	log.Print(time.Since(t0))
}
