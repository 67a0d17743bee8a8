// Package mqtt provides the MQTT transport between the bridge and the
// flow runtime.
//
// This package wraps paho.mqtt.golang with:
//   - Connection management and automatic reconnection
//   - Subscription tracking (restored on reconnect)
//   - Last Will and Testament for offline detection
//   - Panic recovery around message handlers
//   - Topic builders for the bridge topic scheme
//
// # Topic scheme
//
//	matterbridge/{bridge}/{device}/in       flow → bridge commands
//	matterbridge/{bridge}/{device}/out      bridge → flow state updates
//	matterbridge/{bridge}/{device}/status   device status (retained)
//	matterbridge/{bridge}/commissioning     pairing info (retained)
//	matterbridge/system/status              client online/offline (LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{}
//	client.Subscribe(topics.AllDeviceInputs("bridge-001"), 1, handler)
package mqtt
