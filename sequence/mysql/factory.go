/*
Copyright 2023 The TenantCore Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"

	"github.com/dapr/kit/logger"
	"github.com/go-sql-driver/mysql"
)

// iSequenceFactory hides the driver behind an interface to improve testing.
type iSequenceFactory interface {
	Open(connectionString string) (*sql.DB, error)
	RegisterTLSConfig(pemPath string) error
}

type sequenceFactory struct {
	logger logger.Logger
}

func newSequenceFactory(logger logger.Logger) *sequenceFactory {
	return &sequenceFactory{
		logger: logger,
	}
}

func (f *sequenceFactory) Open(connectionString string) (*sql.DB, error) {
	return sql.Open("mysql", connectionString)
}

// RegisterTLSConfig registers a custom TLS config with the driver from the
// CA certificate at pemPath. The connection string must end with
// &tls=custom for the config to take effect.
func (f *sequenceFactory) RegisterTLSConfig(pemPath string) error {
	pem, err := os.ReadFile(pemPath)
	if err != nil {
		f.logger.Errorf("Error reading PEM file from %s", pemPath)
		return err
	}

	rootCertPool := x509.NewCertPool()
	if ok := rootCertPool.AppendCertsFromPEM(pem); !ok {
		return fmt.Errorf("failed to append PEM")
	}

	return mysql.RegisterTLSConfig("custom", &tls.Config{RootCAs: rootCertPool, MinVersion: tls.VersionTLS12})
}
