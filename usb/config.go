package usb

// ParseConfigurationTree parses a full configuration descriptor buffer
// (header plus the variable-length interface/endpoint tree) into the
// header, its interfaces, and their endpoints, attaching a SuperSpeed
// Endpoint Companion descriptor to the endpoint it immediately follows
// when present (spec §4.8 supplement).
func ParseConfigurationTree(data []byte) (config ConfigurationDescriptor, interfaces []InterfaceDescriptor, endpoints []EndpointDescriptor) {
	if len(data) < ConfigurationDescriptorSize {
		return
	}
	if !ParseConfigurationDescriptor(data, &config) {
		return
	}

	interfaces = make([]InterfaceDescriptor, 0, config.NumInterfaces)
	endpoints = make([]EndpointDescriptor, 0, 4)

	offset := ConfigurationDescriptorSize
	total := int(config.TotalLength)
	if total > len(data) {
		total = len(data)
	}
	lastEndpoint := -1

	for offset+2 <= total {
		length := int(data[offset])
		descType := data[offset+1]
		if length < 2 || offset+length > total {
			break
		}

		switch descType {
		case DescriptorTypeInterface:
			var iface InterfaceDescriptor
			if ParseInterfaceDescriptor(data[offset:], &iface) {
				interfaces = append(interfaces, iface)
			}
			lastEndpoint = -1

		case DescriptorTypeEndpoint:
			var ep EndpointDescriptor
			if ParseEndpointDescriptor(data[offset:], &ep) {
				endpoints = append(endpoints, ep)
				lastEndpoint = len(endpoints) - 1
			}

		case DescriptorTypeSSEndpointCompanion:
			if lastEndpoint >= 0 {
				var comp SSEndpointCompanionDescriptor
				if ParseSSEndpointCompanionDescriptor(data[offset:], &comp) {
					endpoints[lastEndpoint].Companion = &comp
				}
			}

		default:
			// Class-specific or other descriptor; this driver has no use
			// for class descriptor contents, so they are skipped.
		}

		offset += length
	}

	return
}

// InterfaceEndpoints returns the endpoint descriptors belonging to
// interface number ifaceNum, given the full endpoint list returned by
// ParseConfigurationTree and the interface descriptors' NumEndpoints
// counts in declaration order. USB configuration descriptors list
// endpoints contiguously after their owning interface descriptor, so
// this walks interfaces in order, consuming NumEndpoints endpoints per
// interface, until it finds ifaceNum.
func InterfaceEndpoints(interfaces []InterfaceDescriptor, endpoints []EndpointDescriptor, ifaceNum uint8) []EndpointDescriptor {
	pos := 0
	for i := range interfaces {
		n := int(interfaces[i].NumEndpoints)
		if pos+n > len(endpoints) {
			n = len(endpoints) - pos
		}
		if interfaces[i].InterfaceNumber == ifaceNum {
			return endpoints[pos : pos+n]
		}
		pos += n
	}
	return nil
}
