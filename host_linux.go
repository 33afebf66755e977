// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package host

import (
	// Make sure the GPIO backends iecbus/ieee488/busline run on are
	// registered: gpioioctl (GPIO character device, the modern kernel
	// ABI) and sysfs (the legacy ABI, still common on older SBC images).
	_ "periph.io/x/host/v3/gpioioctl"
	_ "periph.io/x/host/v3/sysfs"
)
