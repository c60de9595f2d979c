// Package persistence writes the outputs of a collection run: the summary
// JSON, the CSV latency ledger and the archival data file.
package persistence

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"time"
)

// DataFile is a file where archival data has been saved.
type DataFile struct {
	Prefix   string
	Datatype string
	Subtest  string
	UUID     string
	Path     string
	Size     int
}

// WriteDataFile writes the JSON representation of data to a new file under
// datadir/datatype/YYYY/MM/DD. The file name includes the datatype, the
// subtest, the creation timestamp and uuid. It never overwrites an existing
// file.
func WriteDataFile(datadir, datatype, subtest, uuid string,
	data interface{}) (*DataFile, error) {
	timestamp := time.Now().UTC()
	dir := path.Join(datadir, datatype, timestamp.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	content, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	p := path.Join(dir, datatype+"-"+subtest+"-"+
		timestamp.Format("20060102T150405.000000000Z")+"."+uuid+".json")
	fp, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	n, err := fp.Write(content)
	if err != nil {
		fp.Close()
		return nil, err
	}
	if err := fp.Close(); err != nil {
		return nil, err
	}
	return &DataFile{
		Prefix:   datadir,
		Datatype: datatype,
		Subtest:  subtest,
		UUID:     uuid,
		Path:     p,
		Size:     n,
	}, nil
}

// WriteJSON writes the indented JSON representation of v to p, replacing
// any existing file. Missing parent directories are created.
func WriteJSON(p string, v interface{}) error {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := mkdirFor(p); err != nil {
		return err
	}
	return os.WriteFile(p, append(content, '\n'), 0644)
}

func mkdirFor(p string) error {
	dir := filepath.Dir(p)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
