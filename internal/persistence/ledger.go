package persistence

import (
	"os"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
)

// ledgerRow is a CSV row of the latency ledger. Optional columns are empty
// for records that did not cross the relay.
type ledgerRow struct {
	SequenceID           uint64 `csv:"sequence_id"`
	UpstreamEventTime    int64  `csv:"upstream_event_time"`
	RelayReceiptTime     string `csv:"relay_receipt_time"`
	CollectorReceiptTime int64  `csv:"collector_receipt_time"`
	EndToEndLatencyMS    string `csv:"end_to_end_latency_ms"`
	RelayHopLatencyMS    string `csv:"relay_hop_latency_ms"`
}

func formatMS(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toLedgerRow(r model.Record) *ledgerRow {
	row := &ledgerRow{
		SequenceID:           r.SequenceID,
		UpstreamEventTime:    r.UpstreamEventTime,
		CollectorReceiptTime: r.CollectorReceiptTime,
		EndToEndLatencyMS:    formatMS(r.EndToEndLatencyMS),
	}
	if r.RelayReceiptTime != nil {
		row.RelayReceiptTime = strconv.FormatInt(*r.RelayReceiptTime, 10)
	}
	if r.RelayHopLatencyMS != nil {
		row.RelayHopLatencyMS = formatMS(*r.RelayHopLatencyMS)
	}
	return row
}

// WriteLedgerCSV writes records to p as CSV, with a header row, replacing
// any existing file.
func WriteLedgerCSV(p string, records []model.Record) error {
	rows := make([]*ledgerRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, toLedgerRow(r))
	}
	if err := mkdirFor(p); err != nil {
		return err
	}
	fp, err := os.Create(p)
	if err != nil {
		return err
	}
	if err := gocsv.Marshal(rows, fp); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}
