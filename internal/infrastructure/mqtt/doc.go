// Package mqtt provides MQTT client connectivity for the irrigation service.
//
// This package manages:
//   - Connection to the broker with backoff on the first attempt and
//     auto-reconnect afterwards
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// Valve controllers and sensor nodes talk to the service over the broker:
//
//	irrigationd ↔ MQTT Broker ↔ valve controllers / sensor nodes
//
// Topics live under one prefix (default "irrigation"):
//
//	irrigation/command/{plant}   service → controller, irrigation command
//	irrigation/ack/{plant}       controller → service, command result
//	irrigation/status/{plant}    controller → service, retained online state
//	irrigation/sensors/{plant}   sensor node → service, readings
//	irrigation/system/status     service online/offline (retained, LWT)
//
// # Security Considerations
//
//   - Use TLS outside a trusted LAN (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: cfg.Gateway.TopicPrefix})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllAcks(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("ack from %s: %s", mqtt.PlantFromTopic(topic), payload)
//	        return nil
//	    })
package mqtt
