package main

import (
	"flag"
	"os"

	"github.com/m-lab/feedrelay/pkg/feedrelay/model"
	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"

	"cloud.google.com/go/bigquery"
)

var feedrelaySchema string

func init() {
	flag.StringVar(&feedrelaySchema, "feedrelay", "/var/spool/datatypes/feedrelay.json", "filename to write feedrelay schema")
}

func main() {
	flag.Parse()
	// Generate and save the archival data schema for autoloading.
	sch, err := bigquery.InferSchema(model.ArchivalData{})
	rtx.Must(err, "failed to generate feedrelay schema")
	sch = bqx.RemoveRequired(sch)
	b, err := sch.ToJSONFields()
	rtx.Must(err, "failed to marshal feedrelay schema")
	err = os.WriteFile(feedrelaySchema, b, 0o644)
	rtx.Must(err, "failed to write feedrelay schema")
}
