// Package hmip is a small client for the HomematicIP cloud.
//
// It covers what the light bridge needs: loading the current state of the
// home over REST, issuing switch, dim and notification-light commands, and
// applying device updates pushed over the cloud WebSocket.
//
// # Model
//
// A Home holds Devices keyed by id. Each Device owns its FunctionalChannels
// (channel 0 is the device base channel; lights live on 1..n) and guards
// them with its own mutex. Channel data is only mutated by Home when it
// applies a push event; consumers read snapshots and register listeners.
//
// Control methods on Device (TurnOn, SetDimLevel, SetRGBDimLevel ...) go
// through a Controller, normally *Client. They do not change local state:
// the cloud confirms a command by pushing a DEVICE_CHANGED event.
//
// # Usage
//
//	client := hmip.NewClient(hmip.ClientConfig{
//	    AccessPointID: cfg.HmIP.AccessPointID,
//	    AuthToken:     cfg.HmIP.AuthToken,
//	    LookupURL:     cfg.HmIP.LookupURL,
//	})
//	if err := client.Lookup(ctx); err != nil {
//	    return err
//	}
//	home, err := client.LoadHome(ctx)
//	if err != nil {
//	    return err
//	}
//	stream := hmip.NewEventStream(client, home)
//	go stream.Run(ctx)
package hmip
