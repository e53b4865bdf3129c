package cmd

import (
	"log"

	"github.com/quatton/qlaunch/pkg/qerr"
)

// exitIfError prints guidance for known error codes before exiting.
func exitIfError(err error) {
	if err == nil {
		return
	}
	switch {
	case qerr.IsCode(err, qerr.CodeConfig):
		log.Fatalf("configuration error: check qlaunch.yaml and QLAUNCH_* variables (%v)", err)
	case qerr.IsCode(err, qerr.CodeRemote):
		log.Fatalf("Cloud Run request failed: check credentials and the job name (%v)", err)
	default:
		log.Fatalf("%v", err)
	}
}
