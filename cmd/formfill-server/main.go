package main

import (
	"crypto/tls"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/certifi/gocertifi"
	raven "github.com/getsentry/raven-go"

	"github.com/viktor-shcherb/pdf-form-filling-app/server"
)

// config mirrors the TOML configuration file. Flags override the file.
type config struct {
	Port       string `toml:"port"`
	StorageDir string `toml:"storage_dir"`
	Mysql      string `toml:"mysql"`
	SentryDSN  string `toml:"sentry_dsn"`
}

func main() {
	var (
		configFile = flag.String("config-file", "", "name of the configuration file")
		storageDir = flag.String("storage-dir", "", "location of the storage directory")
		port       = flag.String("port", "", "port to listen on (default 15000)")
		mysql      = flag.String("mysql", "", "dial command for a MySQL job database")
		showVer    = flag.Bool("version", false, "display the version and exit")
	)
	flag.Parse()

	if *showVer {
		log.Printf("formfill-server version %s", server.Version)
		return
	}

	var c config
	if *configFile != "" {
		if _, err := toml.DecodeFile(*configFile, &c); err != nil {
			log.Fatalln("Error reading configuration file:", err)
		}
	}
	if *storageDir != "" {
		c.StorageDir = *storageDir
	}
	if *port != "" {
		c.Port = *port
	}
	if *mysql != "" {
		c.Mysql = *mysql
	}

	if c.SentryDSN != "" {
		setupSentry(c.SentryDSN)
	}

	s := &server.RESTServer{
		PortNumber: c.Port,
		StorageDir: c.StorageDir,
		MySQL:      c.Mysql,
	}

	// stop the server on SIGINT or SIGTERM
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		signal.Stop(sig)
		log.Println("Received signal, stopping")
		s.Stop()
	}()

	err := s.Run()
	if err != nil {
		log.Fatalln(err)
	}
}

// setupSentry points the raven client at our DSN, using the certifi root
// bundle so error reporting works on hosts with a sparse system trust
// store.
func setupSentry(dsn string) {
	if err := raven.SetDSN(dsn); err != nil {
		log.Println("sentry:", err)
		return
	}
	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		log.Println("sentry ca certs:", err)
		return
	}
	t := &raven.HTTPTransport{}
	t.Client = &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: rootCAs},
		},
	}
	raven.DefaultClient.Transport = t
}
