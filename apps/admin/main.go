package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mitihani/core"
	"github.com/trezcool/mitihani/core/packet"
	emailsvc "github.com/trezcool/mitihani/services/email"
	logsvc "github.com/trezcool/mitihani/services/logger"
	"github.com/trezcool/mitihani/storage/database"
	sqlxrepos "github.com/trezcool/mitihani/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Connect(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to database: %v", err), err)
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	packet.InitValidators(validate, translator)

	dir := sqlxrepos.NewReferenceDirectory(db)

	// start CLI
	cli := commandLine{
		conf: conf,
		db:   db.DB,
		pktSvc: packet.NewService(packet.Deps{
			Repo:       sqlxrepos.NewPacketRepository(db),
			Directory:  dir,
			Validate:   validate,
			Translator: translator,
			Logger:     logger,
			MailSvc:    emailsvc.NewConsoleService(logger, conf),
			Conf:       conf,
		}),
		dir: dir,
		out: os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
