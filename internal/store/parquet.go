package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"flowscope/internal/flow"
)

// ArchiveWriter exports a purged day's trades to a Parquet file so purging
// the SQLite table never loses history.
type ArchiveWriter struct {
	Dir string
}

// NewArchiveWriter creates an archive writer rooted at dir.
func NewArchiveWriter(dir string) *ArchiveWriter {
	return &ArchiveWriter{Dir: dir}
}

// archiveRecord is the Parquet schema for archived classified trades.
type archiveRecord struct {
	Symbol     string  `parquet:"symbol"`
	Underlying string  `parquet:"underlying"`
	Expiry     string  `parquet:"expiry"`
	Side       string  `parquet:"side"`
	Strike     float64 `parquet:"strike"`

	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Sequence  int64   `parquet:"sequence"`
	Price     float64 `parquet:"price"`
	Size      int64   `parquet:"size"`
	Premium   float64 `parquet:"premium"`
	Exchange  int32   `parquet:"exchange"`

	TradeType      string `parquet:"trade_type"`
	ExecutionLevel string `parquet:"execution_level"`
	Priority       int32  `parquet:"priority"`
	UrgencyScore   int32  `parquet:"urgency_score"`
	FlowDirection  string `parquet:"flow_direction"`
	SweepID        string `parquet:"sweep_id"`
	SweepSize      int64  `parquet:"sweep_size"`
	BlockReason    string `parquet:"block_reason"`
}

// WriteDay writes one day's trades to <Dir>/trades-<YYYY-MM-DD>.parquet.
// An empty day writes nothing and returns an empty path.
func (w *ArchiveWriter) WriteDay(date string, trades []flow.ClassifiedTrade) (string, error) {
	if len(trades) == 0 {
		return "", nil
	}

	records := make([]archiveRecord, 0, len(trades))
	for _, t := range trades {
		records = append(records, archiveRecord{
			Symbol:         t.Symbol,
			Underlying:     t.Contract.Underlying,
			Expiry:         t.Contract.Expiry.Format("2006-01-02"),
			Side:           string(t.Contract.Side),
			Strike:         t.Contract.Strike,
			Timestamp:      t.Timestamp,
			Sequence:       t.Sequence,
			Price:          t.Price,
			Size:           t.Size,
			Premium:        t.Premium,
			Exchange:       int32(t.Exchange),
			TradeType:      string(t.Type),
			ExecutionLevel: string(t.ExecutionLevel),
			Priority:       int32(t.Priority),
			UrgencyScore:   int32(t.Urgency.Score),
			FlowDirection:  string(t.Direction),
			SweepID:        t.SweepID,
			SweepSize:      t.SweepSize,
			BlockReason:    string(t.BlockReason),
		})
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(w.Dir, fmt.Sprintf("trades-%s.parquet", date))
	if err := parquet.WriteFile(path, records); err != nil {
		return "", fmt.Errorf("archiving %s: %w", date, err)
	}
	return path, nil
}

// ReadDay loads one archived day, mainly for verification and tooling.
func (w *ArchiveWriter) ReadDay(date string) ([]archiveRecord, error) {
	path := filepath.Join(w.Dir, fmt.Sprintf("trades-%s.parquet", date))
	return parquet.ReadFile[archiveRecord](path)
}
