package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// Event is a single event-camera measurement: a timestamp in microseconds,
// a pixel coordinate, and a polarity (+1 brightness increase, -1 decrease).
type Event struct {
	T int64
	X int
	Y int
	P int8
}

// readEventCSV parses an event file. Expected columns: t,x,y,p with a header
// row; t in microseconds, p in {-1,0,1} (0 is treated as -1, a convention
// some recorders use for negative polarity).
func readEventCSV(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	if len(header) < 4 {
		return nil, fmt.Errorf("event file %s has %d columns, want at least 4 (t,x,y,p)", path, len(header))
	}

	var events []Event
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d of %s: %w", row, path, err)
		}
		t, err := parseInt64(record[0])
		if err != nil {
			return nil, fmt.Errorf("bad timestamp at row %d of %s: %w", row, path, err)
		}
		x, err := parseInt(record[1])
		if err != nil {
			return nil, fmt.Errorf("bad x at row %d of %s: %w", row, path, err)
		}
		y, err := parseInt(record[2])
		if err != nil {
			return nil, fmt.Errorf("bad y at row %d of %s: %w", row, path, err)
		}
		p, err := parseInt(record[3])
		if err != nil {
			return nil, fmt.Errorf("bad polarity at row %d of %s: %w", row, path, err)
		}
		pol := int8(1)
		if p <= 0 {
			pol = -1
		}
		events = append(events, Event{T: t, X: x, Y: y, P: pol})
		row++
	}
	return events, nil
}

// VoxelGrid bins events into a temporal voxel grid of numBins channels over a
// fixed window of windowUs microseconds starting at the first event. Each
// event's polarity is distributed between the two nearest bins by linear
// temporal weighting. Events outside the window or the sensor area are
// dropped. The returned buffer has length numBins*height*width in CHW order.
func VoxelGrid(events []Event, numBins, height, width int, windowUs int64) ([]float32, error) {
	if numBins <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid voxel grid dimensions: bins=%d h=%d w=%d", numBins, height, width)
	}
	if windowUs <= 0 {
		return nil, fmt.Errorf("invalid voxel window: %d us", windowUs)
	}
	grid := make([]float32, numBins*height*width)
	if len(events) == 0 {
		return grid, nil
	}

	t0 := events[0].T
	denom := float64(windowUs)
	for _, ev := range events {
		dt := ev.T - t0
		if dt < 0 || dt > windowUs {
			continue
		}
		if ev.X < 0 || ev.X >= width || ev.Y < 0 || ev.Y >= height {
			continue
		}
		// normalized bin coordinate in [0, numBins-1]
		tb := float64(dt) / denom * float64(numBins-1)
		if numBins == 1 {
			tb = 0
		}
		b0 := int(tb)
		if b0 > numBins-1 {
			b0 = numBins - 1
		}
		frac := float32(tb - float64(b0))
		pix := ev.Y*width + ev.X
		grid[b0*height*width+pix] += float32(ev.P) * (1 - frac)
		if b0+1 < numBins && frac > 0 {
			grid[(b0+1)*height*width+pix] += float32(ev.P) * frac
		}
	}
	return grid, nil
}
