// Package mqtt provides the broker connection shared by the roster
// watch, the remote button/light panel and the version watch.
//
// Features:
//   - Auto-reconnect with subscription restoration
//   - Last Will and Testament on transponder/system/status
//   - Panic-safe message handlers
//
// Topic layout:
//
//	transponder/hosts/{host}/mailboxes/{id}   retained roster document
//	transponder/global/version                 retained target version
//	transponder/panel/{host}/button/{pin}      1 / 0 from the panel
//	transponder/panel/{host}/light/{index}     {"r":..,"g":..,"b":..} to the panel
//	transponder/system/status                  online / offline
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
