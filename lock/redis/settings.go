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

package redis

import (
	"fmt"
	"time"

	kitmd "github.com/dapr/kit/metadata"
)

// Settings holds the connection settings of the standalone Redis lock store.
type Settings struct {
	// The Redis host, with optional port.
	Host string `mapstructure:"redisHost"`
	// The Redis password.
	Password string `mapstructure:"redisPassword"`
	// The Redis username.
	Username string `mapstructure:"redisUsername"`
	// Database to be selected after connecting to the server.
	DB int `mapstructure:"redisDB"`
	// Maximum number of retries before giving up. -1 disables retries.
	RedisMaxRetries int `mapstructure:"redisMaxRetries"`
	// Dial timeout for establishing new connections.
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
	// Timeout for socket reads.
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	// Timeout for socket writes.
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	// Use Redis Sentinel for automatic failover. Not supported by this store.
	Failover bool `mapstructure:"failover"`
}

// Decode populates s from the metadata properties.
func (s *Settings) Decode(in map[string]string) error {
	if err := kitmd.DecodeMetadata(in, s); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}

	return nil
}
