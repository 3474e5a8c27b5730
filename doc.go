// Package gatt provides a Bluetooth Low Energy GATT server for Linux.
//
// Gatt (Generic Attribute Profile) is the protocol used to write
// BLE peripherals (servers) and centrals (clients). This package writes
// peripherals only.
//
// SETUP
//
// gatt runs next to bluetoothd (BlueZ 5.42 or later) instead of taking the
// controller away from it. Services are published as objects on the system
// bus and registered with bluetoothd's GattManager1, which serves them over
// the air. The controller itself (power, LE, BR/EDR, advertising, name) is
// configured through the kernel's Bluetooth management socket.
//
// The management socket needs CAP_NET_ADMIN, and owning a bus name needs a
// bus policy that allows it:
//
//     sudo setcap 'CAP_NET_ADMIN=+ep' <executable>
//
//     <!-- /etc/dbus-1/system.d/com.gattd.conf -->
//     <policy user="root">
//       <allow own="com.gattd"/>
//       <allow send_destination="com.gattd"/>
//     </policy>
//
// USAGE
//
// Gatt servers are constructed by creating a new server, adding
// services and characteristics, and then starting the server.
//
//     srv := gatt.NewServer(gatt.ServiceName("gophergatt"), gatt.AdvertisingName("Gopher", "Gopher"))
//     svc := srv.AddService(gatt.MustParseUUID("09fc95c0-c111-11e3-9904-0002a5d5c51b"))
//
//     // Add a read characteristic that prints how many times it has been read
//     n := 0
//     rchar := svc.AddCharacteristic(gatt.MustParseUUID("11fac9e0-c111-11e3-9246-0002a5d5c51b"))
//     rchar.HandleRead(
//     	gatt.ReadHandlerFunc(
//     		func(resp gatt.ReadResponseWriter, req *gatt.ReadRequest) {
//     			fmt.Fprintf(resp, "count: %d", n)
//     			n++
//     		}),
//     )
//
//     // Add a notify characteristic that updates once a second
//     nchar := svc.AddCharacteristic(gatt.MustParseUUID("1c927b50-c116-11e3-8a33-0800200c9a66"))
//     nchar.HandleNotifyFunc(
//     	func(r gatt.Request, n gatt.Notifier) {
//     		count := 0
//     		for !n.Done() {
//     			fmt.Fprintf(n, "Count: %d", count)
//     			count++
//     			time.Sleep(time.Second)
//     		}
//     	})
//
//     // Start the server and block until it stops
//     log.Fatal(srv.Serve())
//
// Start brings the server up in the background. Each step (bus
// connection, bus name, adapter lookup, controller settings, object
// registration, application registration) is retried after RetryDelay
// when it fails, except for the bus connection and the first attempt at
// the bus name. Those failures stop the server with HealthFailedInit.
//
// Note that some BLE central devices, particularly iOS, may aggressively
// cache results from previous connections. If you change your services or
// characteristics, you may need to reboot the other device to pick up the
// changes.
//
package gatt
