package flac

import "encoding/binary"

// parsePicture decodes a PICTURE metadata block body and returns the raw
// image bytes. Zero width/height values are accepted and passed through
// unchanged (known encoder behavior in the wild).
func parsePicture(body []byte) (data []byte, ok bool) {
	// 32-bit picture type, then length-prefixed MIME type and description,
	// then width/height/depth/colors, then length-prefixed image data.
	i := 4
	for k := 0; k < 2; k++ { // MIME type, then description
		if len(body) < i+4 {
			return nil, false
		}
		n := int(binary.BigEndian.Uint32(body[i:]))
		i += 4
		if len(body) < i+n {
			return nil, false
		}
		i += n
	}
	i += 4 * 4 // width, height, depth, colors
	if len(body) < i+4 {
		return nil, false
	}
	n := int(binary.BigEndian.Uint32(body[i:]))
	i += 4
	if len(body) < i+n {
		return nil, false
	}
	return body[i : i+n], true
}

// writePicture appends a PICTURE metadata block for image data with the
// given MIME type (front-cover picture type, zero dimensions: this module
// does not inspect the image).
func writePicture(dst []byte, mime string, data []byte, last bool) []byte {
	body := 4 + 4 + len(mime) + 4 + 4*4 + 4 + len(data)
	dst = writeBlockHeader(dst, blockPicture, last, body)
	var u [4]byte
	binary.BigEndian.PutUint32(u[:], 3) // front cover
	dst = append(dst, u[:]...)
	binary.BigEndian.PutUint32(u[:], uint32(len(mime)))
	dst = append(dst, u[:]...)
	dst = append(dst, mime...)
	binary.BigEndian.PutUint32(u[:], 0) // empty description
	dst = append(dst, u[:]...)
	for i := 0; i < 4; i++ {
		dst = append(dst, 0, 0, 0, 0) // width, height, depth, colors
	}
	binary.BigEndian.PutUint32(u[:], uint32(len(data)))
	dst = append(dst, u[:]...)
	return append(dst, data...)
}
