package main

import (
	"github.com/sirupsen/logrus"

	"github.com/vorteil/vhdmount/pkg/cli"
	"github.com/vorteil/vhdmount/pkg/elog"
)

var logger elog.View

func init() {
	log := &elog.CLI{}
	logrus.SetFormatter(log)
	logrus.SetLevel(logrus.TraceLevel)
	logger = log
}

// cli.SetError() wrapper
func setError(err error, statusCode int) {
	logger.Errorf("%v", err)
	cli.SetError(err, statusCode)
}

func main() {

	defer cli.HandleErrors()

	cli.InitializeCommands()

	err := cli.RootCommand.Execute()
	if err != nil {
		setError(err, cli.ExitCode(err))
		return
	}

}
