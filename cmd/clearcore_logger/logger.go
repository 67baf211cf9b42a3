// Command clearcore_logger records the daemon's motor status in InfluxDB.
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"

	"github.com/c-j-payne/ClearCore/internal/config"
)

const measurement = "clearcore.status"

func main() {
	env, err := config.LoadLoggerEnv()
	if err != nil {
		log.Fatal(err)
	}
	client := influxdb2.NewClient(env.InfluxServer, env.InfluxToken)
	defer client.Close()
	points := client.WriteApi(env.InfluxOrg, env.InfluxBucket)
	defer points.Close()
	go func() {
		for err := range points.Errors() {
			log.Printf("influx: %v", err)
		}
	}()

	// The daemon may restart; keep redialing.
	for {
		if err := record(env.Address, points); err != nil {
			log.Printf("%s: %v", env.Address, err)
		}
		time.Sleep(time.Second)
	}
}

// flatten stores every leaf of v in fields under its dotted path.
func flatten(fields map[string]interface{}, v interface{}, path string) {
	switch v := v.(type) {
	case map[string]interface{}:
		for k, child := range v {
			flatten(fields, child, path+"."+k)
		}
	case []interface{}:
		for i, child := range v {
			flatten(fields, child, fmt.Sprintf("%s.%d", path, i))
		}
	default:
		fields[path[1:]] = v
	}
}

// record writes one point per motor for every status frame until the
// websocket fails.
func record(url string, points api.WriteApi) error {
	defer points.Flush()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		at := time.Now()
		for name, status := range frame {
			fields := make(map[string]interface{})
			flatten(fields, status, "")
			points.WritePoint(influxdb2.NewPoint(measurement, map[string]string{"motor": name}, fields, at))
		}
	}
}
