package main

import (
	"net/http"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/relabs-tech/marina/core/access"
	"github.com/relabs-tech/marina/core/backend"
	"github.com/relabs-tech/marina/core/backend/archive"
	"github.com/relabs-tech/marina/core/backend/store"
	"github.com/relabs-tech/marina/core/csql"
	"github.com/relabs-tech/marina/core/logger"
	"github.com/relabs-tech/marina/core/notifier"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,default=docker" description:"password to the Postgres DB"`
	Port             string `env:"PORT,default=3000" description:"the port this service listens on"`
	PublicURL        string `env:"PUBLIC_URL,default=http://localhost:3000" description:"the public base URL for self links, without trailing slash"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"one of panic, fatal, error, warn, info, debug, trace"`

	OAuthClientID     string `env:"OAUTH_CLIENT_ID,required" description:"the OAuth client id registered with the identity provider"`
	OAuthClientSecret string `env:"OAUTH_CLIENT_SECRET,required" description:"the OAuth client secret"`
	OAuthAuthorizeURL string `env:"OAUTH_AUTHORIZE_URL,required" description:"the provider's authorization endpoint"`
	OAuthTokenURL     string `env:"OAUTH_TOKEN_URL,required" description:"the provider's token endpoint"`
	OAuthLogoutURL    string `env:"OAUTH_LOGOUT_URL,default=" description:"the provider's logout endpoint"`
	OAuthIssuer       string `env:"OAUTH_ISSUER,required" description:"the accepted issuer for id tokens"`
	OAuthCertsURL     string `env:"OAUTH_CERTS_URL,required" description:"the download URL for the provider's certificate map"`
	AdminSubjects     string `env:"ADMIN_SUBJECTS,default=" description:"comma separated subject identifiers with admin role"`

	KafkaBrokers string `env:"KAFKA_BROKERS,default=" description:"comma separated Kafka brokers for mutation notifications"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=marina-notifications" description:"the Kafka topic for mutation notifications"`

	ArchivePath     string `env:"ARCHIVE_PATH,default=" description:"base path for the local filesystem snapshot archive"`
	ArchiveS3Bucket string `env:"ARCHIVE_S3_BUCKET,default=" description:"S3 bucket for the snapshot archive; takes precedence over ARCHIVE_PATH"`
	ArchiveS3Region string `env:"ARCHIVE_S3_REGION,default=eu-central-1" description:"AWS region of the S3 archive bucket"`
	AWSAccessID     string `env:"AWS_ACCESS_ID,default=" description:"AWS access key id for the S3 archive"`
	AWSAccessKey    string `env:"AWS_ACCESS_KEY,default=" description:"AWS secret access key for the S3 archive"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logLevel, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(logLevel)
	rlog := logger.Default()

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, "marina")
	defer db.Close()
	entityStore := store.MustNewPostgres(db)

	keys, err := access.NewKeySetFromURL(service.OAuthCertsURL)
	if err != nil {
		panic(err)
	}

	var adminSubjects []string
	if service.AdminSubjects != "" {
		adminSubjects = strings.Split(service.AdminSubjects, ",")
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Keys:          keys,
		Issuer:        service.OAuthIssuer,
		AdminSubjects: adminSubjects,
	}))

	var notify *notifier.Kafka
	if service.KafkaBrokers != "" {
		notify = notifier.NewKafka(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer notify.Close()
	}

	var archiveDriver archive.Driver
	if service.ArchiveS3Bucket != "" {
		archiveDriver, err = archive.NewS3(archive.S3Configuration{
			AWSBucketName: service.ArchiveS3Bucket,
			AWSRegion:     service.ArchiveS3Region,
			AccessID:      service.AWSAccessID,
			AccessKey:     service.AWSAccessKey,
		})
		if err != nil {
			panic(err)
		}
	} else if service.ArchivePath != "" {
		archiveDriver, err = archive.NewLocalFilesystem(service.ArchivePath)
		if err != nil {
			panic(err)
		}
	}

	builder := &backend.Builder{
		Store:     entityStore,
		Router:    router,
		Archive:   archiveDriver,
		PublicURL: service.PublicURL,
	}
	if notify != nil {
		builder.Notifier = notify
	}
	b := backend.New(builder)

	access.MustNewOAuthAPI(&access.OAuthAPIBuilder{
		ClientID:        service.OAuthClientID,
		ClientSecret:    service.OAuthClientSecret,
		AuthorizeURL:    service.OAuthAuthorizeURL,
		TokenURL:        service.OAuthTokenURL,
		LogoutURL:       service.OAuthLogoutURL,
		RedirectURL:     service.PublicURL + "/auth/callback",
		Issuer:          service.OAuthIssuer,
		Keys:            keys,
		Router:          router,
		RegisterSubject: b.RegisterSubject,
	})

	rlog.Infoln("listen on port :" + service.Port)
	rlog.Fatal(http.ListenAndServe(":"+service.Port, router))
}
