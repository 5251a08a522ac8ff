package h264

import (
	"fmt"
)

// bitReader reads bit fields and Exp-Golomb codes from an RBSP byte string.
type bitReader struct {
	data []byte
	pos  int // bit position
}

func (r *bitReader) bit() (uint, error) {
	byteIdx := r.pos >> 3
	if byteIdx >= len(r.data) {
		return 0, fmt.Errorf("sps truncated at bit %d", r.pos)
	}
	bit := uint(r.data[byteIdx]>>(7-uint(r.pos&7))) & 1
	r.pos++
	return bit, nil
}

func (r *bitReader) bits(n int) (uint, error) {
	var v uint
	for i := 0; i < n; i++ {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

// ue reads an unsigned Exp-Golomb code.
func (r *bitReader) ue() (uint, error) {
	zeros := 0
	for {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, fmt.Errorf("exp-golomb code too long")
		}
	}
	suffix, err := r.bits(zeros)
	if err != nil {
		return 0, err
	}
	return 1<<uint(zeros) - 1 + suffix, nil
}

// se reads a signed Exp-Golomb code.
func (r *bitReader) se() (int, error) {
	v, err := r.ue()
	if err != nil {
		return 0, err
	}
	if v%2 == 0 {
		return -int(v / 2), nil
	}
	return int(v+1) / 2, nil
}

// ParseSPSDimensions extracts the coded picture width and height from a
// sequence parameter set. The input starts at the NAL header byte (no start
// code); emulation-prevention bytes are stripped before parsing.
func ParseSPSDimensions(nal []byte) (int, int, error) {
	if len(nal) < 4 {
		return 0, 0, fmt.Errorf("sps too short (%d bytes)", len(nal))
	}
	if nal[0]&0x1F != NALTypeSPS {
		return 0, 0, fmt.Errorf("not an sps nal (type %d)", nal[0]&0x1F)
	}

	r := &bitReader{data: stripEmulationPrevention(nal[1:])}

	profileIDC, err := r.bits(8)
	if err != nil {
		return 0, 0, err
	}
	if _, err := r.bits(16); err != nil { // constraint flags + level_idc
		return 0, 0, err
	}
	if _, err := r.ue(); err != nil { // seq_parameter_set_id
		return 0, 0, err
	}

	chromaFormatIDC := uint(1) // 4:2:0 unless signalled
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		chromaFormatIDC, err = r.ue()
		if err != nil {
			return 0, 0, err
		}
		if chromaFormatIDC == 3 {
			if _, err := r.bit(); err != nil { // separate_colour_plane_flag
				return 0, 0, err
			}
		}
		if _, err := r.ue(); err != nil { // bit_depth_luma_minus8
			return 0, 0, err
		}
		if _, err := r.ue(); err != nil { // bit_depth_chroma_minus8
			return 0, 0, err
		}
		if _, err := r.bit(); err != nil { // qpprime_y_zero_transform_bypass_flag
			return 0, 0, err
		}
		scalingMatrix, err := r.bit()
		if err != nil {
			return 0, 0, err
		}
		if scalingMatrix == 1 {
			lists := 8
			if chromaFormatIDC == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				present, err := r.bit()
				if err != nil {
					return 0, 0, err
				}
				if present == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := skipScalingList(r, size); err != nil {
						return 0, 0, err
					}
				}
			}
		}
	}

	if _, err := r.ue(); err != nil { // log2_max_frame_num_minus4
		return 0, 0, err
	}
	picOrderCntType, err := r.ue()
	if err != nil {
		return 0, 0, err
	}
	switch picOrderCntType {
	case 0:
		if _, err := r.ue(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return 0, 0, err
		}
	case 1:
		if _, err := r.bit(); err != nil { // delta_pic_order_always_zero_flag
			return 0, 0, err
		}
		if _, err := r.se(); err != nil { // offset_for_non_ref_pic
			return 0, 0, err
		}
		if _, err := r.se(); err != nil { // offset_for_top_to_bottom_field
			return 0, 0, err
		}
		cycles, err := r.ue()
		if err != nil {
			return 0, 0, err
		}
		for i := uint(0); i < cycles; i++ {
			if _, err := r.se(); err != nil {
				return 0, 0, err
			}
		}
	}

	if _, err := r.ue(); err != nil { // max_num_ref_frames
		return 0, 0, err
	}
	if _, err := r.bit(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return 0, 0, err
	}

	widthInMBs, err := r.ue()
	if err != nil {
		return 0, 0, err
	}
	heightInMapUnits, err := r.ue()
	if err != nil {
		return 0, 0, err
	}
	frameMbsOnly, err := r.bit()
	if err != nil {
		return 0, 0, err
	}
	if frameMbsOnly == 0 {
		if _, err := r.bit(); err != nil { // mb_adaptive_frame_field_flag
			return 0, 0, err
		}
	}
	if _, err := r.bit(); err != nil { // direct_8x8_inference_flag
		return 0, 0, err
	}

	width := int(widthInMBs+1) * 16
	height := int(2-frameMbsOnly) * int(heightInMapUnits+1) * 16

	cropping, err := r.bit()
	if err != nil {
		return 0, 0, err
	}
	if cropping == 1 {
		left, err := r.ue()
		if err != nil {
			return 0, 0, err
		}
		right, err := r.ue()
		if err != nil {
			return 0, 0, err
		}
		top, err := r.ue()
		if err != nil {
			return 0, 0, err
		}
		bottom, err := r.ue()
		if err != nil {
			return 0, 0, err
		}

		cropUnitX, cropUnitY := cropUnits(chromaFormatIDC, frameMbsOnly)
		width -= int(left+right) * cropUnitX
		height -= int(top+bottom) * cropUnitY
	}

	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid sps dimensions %dx%d", width, height)
	}
	return width, height, nil
}

// cropUnits returns the frame cropping units for the chroma format.
func cropUnits(chromaFormatIDC, frameMbsOnly uint) (int, int) {
	subW, subH := 1, 1
	switch chromaFormatIDC {
	case 1: // 4:2:0
		subW, subH = 2, 2
	case 2: // 4:2:2
		subW, subH = 2, 1
	}
	return subW, subH * int(2-frameMbsOnly)
}

func skipScalingList(r *bitReader, size int) error {
	lastScale, nextScale := 8, 8
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			delta, err := r.se()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// stripEmulationPrevention removes 0x03 emulation-prevention bytes from the
// RBSP (0x000003 encodes a raw 0x0000).
func stripEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}
