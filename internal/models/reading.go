package models

import "fmt"

// DeviceKey 构建设备键 "mac:pid"
// 隔离门、状态缓存和报警去重都以此为键
func DeviceKey(mac string, pid int) string {
	return fmt.Sprintf("%s:%d", mac, pid)
}

// DataPoint 协议解析后的单个参数值
// Value 的实际类型由上游解析阶段决定（数值或字符串）
type DataPoint struct {
	Name    string      `json:"name"`     // 参数名，如 "temp"、"status"
	Value   interface{} `json:"value"`    // 解析后的值
	IsValid bool        `json:"is_valid"` // 解析阶段的有效性标记
}

// ParsedReading 协议解析阶段输出的一次上报数据
// 管道只消费解析结果，不负责字节流解码
type ParsedReading struct {
	MAC        string      `json:"mac"`         // 终端硬件地址
	PID        int         `json:"pid"`         // 子设备索引（>0）
	Protocol   string      `json:"protocol"`    // 协议标识
	DataPoints []DataPoint `json:"data_points"` // 参数列表
	Timestamp  int64       `json:"timestamp"`   // Unix 时间戳（毫秒）
}

// DeviceKey 返回设备键 "mac:pid"
func (r *ParsedReading) DeviceKey() string {
	return DeviceKey(r.MAC, r.PID)
}

// FindDataPoint 按参数名查找数据点，不存在返回 nil
func (r *ParsedReading) FindDataPoint(name string) *DataPoint {
	for i := range r.DataPoints {
		if r.DataPoints[i].Name == name {
			return &r.DataPoints[i]
		}
	}
	return nil
}
